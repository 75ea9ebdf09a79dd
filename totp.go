package neoauth

import (
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"
)

const totpSecretBytes = 20

var (
	totpSecretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)
	errEmptyTOTPSecret = errors.New("empty totp secret")
)

// totpManager provisions authenticator secrets and checks RFC 6238 codes.
// Secrets cross this type as raw bytes; base32 only exists at the
// provisioning boundary.
type totpManager struct {
	digits    otp.Digits
	algorithm otp.Algorithm
	period    int64
	skew      int
	issuer    string
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	m := &totpManager{
		digits:    otp.DigitsSix,
		algorithm: otp.AlgorithmSHA1,
		period:    int64(cfg.Period),
		skew:      cfg.Skew,
		issuer:    cfg.Issuer,
	}
	if cfg.Digits == 8 {
		m.digits = otp.DigitsEight
	}
	switch strings.ToUpper(cfg.Algorithm) {
	case "SHA256":
		m.algorithm = otp.AlgorithmSHA256
	case "SHA512":
		m.algorithm = otp.AlgorithmSHA512
	}
	if m.period <= 0 {
		m.period = 30
	}
	return m
}

// GenerateKey creates a new shared secret for account and returns the raw
// secret, its base32 form and the otpauth provisioning URI.
func (m *totpManager) GenerateKey(account string) ([]byte, AuthenticatorSetup, error) {
	if m == nil {
		return nil, AuthenticatorSetup{}, ErrEngineNotReady
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: account,
		Period:      uint(m.period),
		SecretSize:  totpSecretBytes,
		Digits:      m.digits,
		Algorithm:   m.algorithm,
	})
	if err != nil {
		return nil, AuthenticatorSetup{}, err
	}
	raw, err := totpSecretEncoding.DecodeString(key.Secret())
	if err != nil {
		return nil, AuthenticatorSetup{}, err
	}
	return raw, AuthenticatorSetup{SecretBase32: key.Secret(), URI: key.URL()}, nil
}

// VerifyCode checks code against every step within skew of now and returns
// the matched counter so callers can refuse replays of the same step.
func (m *totpManager) VerifyCode(secret []byte, code string, now time.Time) (bool, int64, error) {
	if m == nil {
		return false, 0, ErrEngineNotReady
	}
	code = strings.TrimSpace(code)
	if len(code) != m.digits.Length() || strings.Trim(code, "0123456789") != "" {
		return false, 0, nil
	}
	if len(secret) == 0 {
		return false, 0, errEmptyTOTPSecret
	}

	encoded := totpSecretEncoding.EncodeToString(secret)
	opts := hotp.ValidateOpts{Digits: m.digits, Algorithm: m.algorithm}
	current := now.Unix() / m.period
	for counter := current - int64(m.skew); counter <= current+int64(m.skew); counter++ {
		if counter < 0 {
			continue
		}
		expected, err := hotp.GenerateCodeCustom(encoded, uint64(counter), opts)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true, counter, nil
		}
	}
	return false, 0, nil
}
