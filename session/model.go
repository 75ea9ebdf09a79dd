package session

// Session is an application login session. IP and user agent are kept as
// sha256 digests only. Timestamps are unix seconds.
type Session struct {
	SessionID     string
	UserID        string
	IPHash        [32]byte
	UserAgentHash [32]byte
	CreatedAt     int64
	ExpiresAt     int64
}
