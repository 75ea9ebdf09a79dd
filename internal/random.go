package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"math/big"
	"strconv"
)

const sessionIDBytes = 16

// NewSessionID returns 128 random bits as unpadded base64url (22 chars).
func NewSessionID() (string, error) {
	raw := make([]byte, sessionIDBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// ValidSessionID reports whether id has the shape NewSessionID produces.
// Callers use it to skip a store lookup for ids that cannot exist.
func ValidSessionID(id string) bool {
	if base64.RawURLEncoding.EncodedLen(sessionIDBytes) != len(id) {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(id)
	return err == nil && len(raw) == sessionIDBytes
}

var codeRange = big.NewInt(900000)

// NewNumericCode returns a uniformly drawn code in [100000, 999999].
func NewNumericCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeRange)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+100000, 10), nil
}

// HashCode is the digest persisted in place of a one-time code.
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

// HashBindingValue hashes an IP address or user agent before it is stored
// alongside a session.
func HashBindingValue(v string) [32]byte {
	return sha256.Sum256([]byte(v))
}
