package session

import (
	"encoding/binary"
	"errors"
)

// recordVersion prefixes every stored session so the layout can change
// without breaking sessions written by older binaries.
const recordVersion byte = 1

const fixedTail = 32 + 32 + 8 + 8

var (
	errUserIDTooLong    = errors.New("session: user id exceeds 255 bytes")
	errUnknownVersion   = errors.New("session: unknown record version")
	errTruncatedSession = errors.New("session: truncated record")
)

// Encode serializes s as
// version | len(userID) | userID | ipHash | uaHash | createdAt | expiresAt.
// The session ID is the Redis key and is not repeated in the value.
func Encode(s *Session) ([]byte, error) {
	if len(s.UserID) > 255 {
		return nil, errUserIDTooLong
	}
	out := make([]byte, 0, 2+len(s.UserID)+fixedTail)
	out = append(out, recordVersion, byte(len(s.UserID)))
	out = append(out, s.UserID...)
	out = append(out, s.IPHash[:]...)
	out = append(out, s.UserAgentHash[:]...)
	out = binary.BigEndian.AppendUint64(out, uint64(s.CreatedAt))
	out = binary.BigEndian.AppendUint64(out, uint64(s.ExpiresAt))
	return out, nil
}

// Decode parses a record produced by Encode. Trailing bytes are rejected.
func Decode(data []byte) (*Session, error) {
	if len(data) < 2 {
		return nil, errTruncatedSession
	}
	if data[0] != recordVersion {
		return nil, errUnknownVersion
	}
	n := int(data[1])
	rest := data[2:]
	if len(rest) != n+fixedTail {
		return nil, errTruncatedSession
	}

	s := &Session{UserID: string(rest[:n])}
	rest = rest[n:]
	copy(s.IPHash[:], rest[:32])
	copy(s.UserAgentHash[:], rest[32:64])
	s.CreatedAt = int64(binary.BigEndian.Uint64(rest[64:72]))
	s.ExpiresAt = int64(binary.BigEndian.Uint64(rest[72:80]))
	return s, nil
}
