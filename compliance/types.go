package compliance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Method is an authentication factor type.
type Method string

const (
	MethodSMS           Method = "sms"
	MethodEmail         Method = "email"
	MethodAuthenticator Method = "authenticator"
	MethodHardware      Method = "hardware"
)

// Valid reports whether m is one of the known factor types.
func (m Method) Valid() bool {
	switch m {
	case MethodSMS, MethodEmail, MethodAuthenticator, MethodHardware:
		return true
	}
	return false
}

type Level string

const (
	LevelNone Level = "N/A"
	LevelSES  Level = "SES"
	LevelAES  Level = "AES"
	LevelQES  Level = "QES"
)

type LegalValue string

const (
	LegalNone      LegalValue = "N/A"
	LegalBasic     LegalValue = "Basic"
	LegalAdvanced  LegalValue = "Advanced"
	LegalQualified LegalValue = "Qualified"
)

// Kind tags the signature variant.
type Kind string

const (
	KindSES Kind = "SES"
	KindAES Kind = "AES"
)

// Base holds the fields every signature records.
type Base struct {
	ID               string     `json:"id,omitempty"`
	SignatureData    string     `json:"signatureData"`
	Algorithm        string     `json:"algorithm,omitempty"`
	ValidationMethod string     `json:"validationMethod"`
	IsValidated      bool       `json:"isValidated"`
	ValidatedAt      *time.Time `json:"validatedAt,omitempty"`
	CreatedAt        *time.Time `json:"createdAt,omitempty"`
	IPAddress        string     `json:"ipAddress"`
	UserAgent        string     `json:"userAgent"`
}

type Certificate struct {
	Subject      string    `json:"subject,omitempty"`
	Issuer       string    `json:"issuer"`
	SerialNumber string    `json:"serialNumber,omitempty"`
	ValidFrom    time.Time `json:"validFrom"`
	ValidTo      time.Time `json:"validTo"`
	IsQualified  bool      `json:"isQualified"`
	KeyUsage     []string  `json:"keyUsage,omitempty"`
}

// ValidAt reports whether t falls inside the certificate validity window.
func (c *Certificate) ValidAt(t time.Time) bool {
	if c == nil {
		return false
	}
	if !c.ValidFrom.IsZero() && t.Before(c.ValidFrom) {
		return false
	}
	return c.ValidTo.IsZero() || !t.After(c.ValidTo)
}

// HasKeyUsage matches usage names case-insensitively, treating "_" and
// camelCase spellings of non-repudiation alike.
func (c *Certificate) HasKeyUsage(usage string) bool {
	if c == nil {
		return false
	}
	want := normalizeUsage(usage)
	for _, u := range c.KeyUsage {
		if normalizeUsage(u) == want {
			return true
		}
	}
	return false
}

func normalizeUsage(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	u = strings.ReplaceAll(u, "_", "")
	return strings.ReplaceAll(u, "-", "")
}

type Timestamp struct {
	AuthorityURL string    `json:"authorityUrl"`
	Time         time.Time `json:"time"`
}

type Validation struct {
	Method      string    `json:"method,omitempty"`
	IsValid     bool      `json:"isValid"`
	ValidatedAt time.Time `json:"validatedAt,omitempty"`
}

// AESFields is the evidence an advanced signature carries.
type AESFields struct {
	Certificate          *Certificate `json:"certificate,omitempty"`
	TwoFactorMethod      Method       `json:"twoFactorMethod,omitempty"`
	IsTwoFactorValidated bool         `json:"isTwoFactorValidated"`
	Timestamp            *Timestamp   `json:"timestamp,omitempty"`
	Validation           *Validation  `json:"validation,omitempty"`
	SignedAt             *time.Time   `json:"signedAt,omitempty"`
	QualifiedDevice      bool         `json:"qualifiedDevice,omitempty"`
}

type Signature struct {
	Kind Kind       `json:"kind"`
	Base Base       `json:"base"`
	AES  *AESFields `json:"aes,omitempty"`
}

// ParseSignature decodes a JSON signature document and checks its tag.
func ParseSignature(data []byte) (*Signature, error) {
	var sig Signature
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	switch sig.Kind {
	case KindSES, KindAES:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignatureKind, sig.Kind)
	}
	return &sig, nil
}

type CertificateInfo struct {
	Issuer      string    `json:"issuer"`
	ValidFrom   time.Time `json:"validFrom"`
	ValidTo     time.Time `json:"validTo"`
	IsQualified bool      `json:"isQualified"`
}

type TimestampInfo struct {
	AuthorityURL string    `json:"authorityUrl"`
	Time         time.Time `json:"time"`
}

// Report is the derived compliance record of one signature.
type Report struct {
	Level       Level            `json:"eidasLevel"`
	LegalValue  LegalValue       `json:"legalValue"`
	IsCompliant bool             `json:"isCompliant"`
	Satisfied   []string         `json:"satisfiedRequirements"`
	Unsatisfied []string         `json:"unsatisfiedRequirements"`
	Certificate *CertificateInfo `json:"certificateInfo,omitempty"`
	Timestamp   *TimestampInfo   `json:"timestampInfo,omitempty"`
}

func (r *Report) check(ok bool, requirement string) {
	if ok {
		r.Satisfied = append(r.Satisfied, requirement)
		return
	}
	r.Unsatisfied = append(r.Unsatisfied, requirement)
}

type SecurityAssessment struct {
	IsValid         bool     `json:"isValid"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

func (a *SecurityAssessment) flag(issue, recommendation string) {
	a.Issues = append(a.Issues, issue)
	a.Recommendations = append(a.Recommendations, recommendation)
}

type FullReport struct {
	Level       Level              `json:"level"`
	Compliance  Report             `json:"compliance"`
	Security    SecurityAssessment `json:"security"`
	LegalValue  LegalValue         `json:"legalValue"`
	GeneratedAt time.Time          `json:"timestamp"`
}
