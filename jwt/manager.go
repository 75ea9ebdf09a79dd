package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the step-up token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

var (
	ErrMissingBinding = errors.New("step-up token requires uid and sid")
	ErrDeadlinePassed = errors.New("step-up session already expired")
	ErrNoSigningKey   = errors.New("manager has no signing key")
	ErrUnknownKeyID   = errors.New("unknown kid")
	ErrIATInFuture    = errors.New("token iat too far in the future")
)

// Config controls step-up token issuance and verification.
//
// TTL caps the lifetime of every token; a session deadline earlier than
// now+TTL shortens it further.
type Config struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	// KeyID is written to the kid header. With VerifyKeys set, tokens are
	// verified by the key registered under their kid.
	KeyID      string
	VerifyKeys map[string][]byte
	// Now overrides the clock used for iat, exp and validation.
	Now func() time.Time
}

// Manager signs and parses step-up session tokens. Keys are decoded once
// at construction.
type Manager struct {
	cfg       Config
	now       func() time.Time
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	keyring   map[string]any
	parser    *jwt.Parser
}

// StepUpClaims binds a token to one step-up session and its owner.
type StepUpClaims struct {
	UID     string `json:"uid"`
	SID     string `json:"sid"`
	Purpose string `json:"pur,omitempty"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.TTL <= 0:
		return nil, errors.New("invalid TTL configuration")
	case cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute:
		return nil, errors.New("invalid leeway configuration")
	case cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour:
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{cfg: cfg, now: cfg.Now, keyring: make(map[string]any, len(cfg.VerifyKeys))}
	if m.now == nil {
		m.now = time.Now
	}

	var decodeVerify func([]byte) (any, error)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a private key of at least 32 bytes")
		}
		m.method = jwt.SigningMethodHS256
		m.signKey = cfg.PrivateKey
		m.verifyKey = cfg.PrivateKey
		decodeVerify = func(b []byte) (any, error) { return b, nil }
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			m.signKey = priv
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			m.verifyKey = pub
		}
		if m.verifyKey == nil && len(cfg.VerifyKeys) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		decodeVerify = func(b []byte) (any, error) { return parseEdPublicKey(b) }
	default:
		return nil, errors.New("unsupported signing method")
	}

	for kid, raw := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		key, err := decodeVerify(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid verify key for kid %q: %w", kid, err)
		}
		m.keyring[kid] = key
	}
	if cfg.KeyID != "" && len(m.keyring) > 0 {
		if _, ok := m.keyring[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.RequireIAT {
		opts = append(opts, jwt.WithIssuedAt())
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	m.parser = jwt.NewParser(opts...)
	return m, nil
}

// CreateStepUp signs a token for the session. The token expires at
// deadline or after the configured TTL, whichever comes first.
func (m *Manager) CreateStepUp(uid, sid, purpose string, deadline time.Time) (string, error) {
	if uid == "" || sid == "" {
		return "", ErrMissingBinding
	}
	if m.signKey == nil {
		return "", ErrNoSigningKey
	}

	now := m.now()
	exp := now.Add(m.cfg.TTL)
	if !deadline.IsZero() && deadline.Before(exp) {
		exp = deadline
	}
	if !exp.After(now) {
		return "", ErrDeadlinePassed
	}

	claims := StepUpClaims{
		UID:     uid,
		SID:     sid,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	if m.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.cfg.Audience}
	}

	token := jwt.NewWithClaims(m.method, claims)
	if m.cfg.KeyID != "" {
		token.Header["kid"] = m.cfg.KeyID
	}
	return token.SignedString(m.signKey)
}

// ParseStepUp verifies signature, algorithm, expiry and the configured
// issuer/audience before returning the claims.
func (m *Manager) ParseStepUp(raw string) (*StepUpClaims, error) {
	claims := &StepUpClaims{}
	token, err := m.parser.ParseWithClaims(raw, claims, m.lookupKey)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.SID == "" || claims.UID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(m.now().Add(m.cfg.MaxFutureIAT)) {
		return nil, ErrIATInFuture
	}
	return claims, nil
}

func (m *Manager) lookupKey(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if len(m.keyring) > 0 {
		key, ok := m.keyring[kid]
		if !ok {
			return nil, ErrUnknownKeyID
		}
		return key, nil
	}
	if m.cfg.KeyID != "" && kid != m.cfg.KeyID {
		return nil, ErrUnknownKeyID
	}
	return m.verifyKey, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
