package neoauth

import (
	"context"
	"slices"
	"time"

	"github.com/neosign/neoauth/compliance"
)

// FactorType is one authentication channel a step-up session can require.
type FactorType = compliance.Method

const (
	FactorSMS           FactorType = compliance.MethodSMS
	FactorEmail         FactorType = compliance.MethodEmail
	FactorAuthenticator FactorType = compliance.MethodAuthenticator
	FactorHardware      FactorType = compliance.MethodHardware
)

// AccountStatus is the lifecycle state of a user account.
type AccountStatus string

const (
	AccountActive          AccountStatus = "active"
	AccountPendingDeletion AccountStatus = "pending_deletion"
	AccountDisabled        AccountStatus = "disabled"
	AccountDeleted         AccountStatus = "deleted"
)

// UserRecord is the account data the engine reads and updates through
// [UserProvider]. Deletion fields are nil unless a deletion is scheduled.
type UserRecord struct {
	UserID              string
	Email               string
	Status              AccountStatus
	DeletionRequestedAt *time.Time
	DeletionScheduledAt *time.Time
	DeletionReason      string
}

// TwoFactorProfile holds the verified second factors of one user.
//
// EnabledMethods keeps insertion order for display. A method is listed iff
// its flag is set: EmailVerifiedAt for email, PhoneVerified for sms and
// AuthenticatorEnabled for authenticator.
type TwoFactorProfile struct {
	UserID                     string
	EnabledMethods             []FactorType
	EmailVerifiedAt            *time.Time
	PhoneNumber                string
	PhoneVerified              bool
	AuthenticatorSecret        []byte
	PendingAuthenticatorSecret []byte
	AuthenticatorEnabled       bool
	LastUsedCounter            int64
}

// HasMethod reports whether m is listed in EnabledMethods.
func (p *TwoFactorProfile) HasMethod(m FactorType) bool {
	return slices.Contains(p.EnabledMethods, m)
}

// Consistent checks the method-listed-iff-flag-set invariant.
func (p *TwoFactorProfile) Consistent() bool {
	if p.HasMethod(FactorEmail) != (p.EmailVerifiedAt != nil) {
		return false
	}
	if p.HasMethod(FactorSMS) != p.PhoneVerified {
		return false
	}
	if p.HasMethod(FactorAuthenticator) != p.AuthenticatorEnabled {
		return false
	}
	seen := make(map[FactorType]struct{}, len(p.EnabledMethods))
	for _, m := range p.EnabledMethods {
		if _, dup := seen[m]; dup {
			return false
		}
		seen[m] = struct{}{}
	}
	return true
}

func (p *TwoFactorProfile) addMethod(m FactorType) {
	if !p.HasMethod(m) {
		p.EnabledMethods = append(p.EnabledMethods, m)
	}
}

// UserProvider is implemented by the host application to load and persist
// users and their two-factor profiles. Unknown users must yield
// [ErrUserNotFound]. A missing profile for a known user returns an empty
// profile with UserID set.
//
// TransitionUser persists user only while the stored status equals from,
// as a single compare-and-set, and returns [ErrAccountStatusConflict]
// otherwise. Deletion scheduling and cancellation go through it.
type UserProvider interface {
	GetUser(ctx context.Context, userID string) (UserRecord, error)
	UpdateUser(ctx context.Context, user UserRecord) error
	TransitionUser(ctx context.Context, user UserRecord, from AccountStatus) error
	GetTwoFactorProfile(ctx context.Context, userID string) (TwoFactorProfile, error)
	SaveTwoFactorProfile(ctx context.Context, profile TwoFactorProfile) error
}

// HardwareVerifier validates a hardware security key assertion for a user.
type HardwareVerifier interface {
	VerifyAssertion(ctx context.Context, userID, assertion string) (bool, error)
}

// StepUpRequest describes a new step-up session. Only the first
// Config.StepUp.MaxFactors entries of Factors become requirements.
type StepUpRequest struct {
	UserID    string
	IPAddress string
	UserAgent string
	Purpose   string
	Factors   []FactorType
}

// Well-known step-up purposes.
const (
	PurposeAESSignature    = "aes_signature"
	PurposeAccountDeletion = "account_deletion"
)

// Requirement is the client-safe view of one factor requirement. Codes and
// full destinations are never included.
type Requirement struct {
	ID          string     `json:"id"`
	Type        FactorType `json:"type"`
	Required    bool       `json:"required"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Destination string     `json:"destination,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

// StepUpSession is the client-safe view of a step-up session. Token must be
// presented on later calls. DeliveryFailed reports that at least one code
// could not be sent; the issued codes remain valid.
type StepUpSession struct {
	ID             string        `json:"id"`
	Token          string        `json:"token,omitempty"`
	UserID         string        `json:"user_id"`
	Purpose        string        `json:"purpose"`
	Requirements   []Requirement `json:"requirements"`
	Completed      bool          `json:"completed"`
	CreatedAt      time.Time     `json:"created_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	ExpiresAt      time.Time     `json:"expires_at"`
	DeliveryFailed bool          `json:"delivery_failed,omitempty"`
}

// StepUpStatus is the completion summary of a session. Reason is
// ErrInsufficientFactors or ErrDiversityRuleFailed while incomplete.
type StepUpStatus struct {
	SessionID        string       `json:"session_id"`
	IsCompleted      bool         `json:"is_completed"`
	CompletedMethods []FactorType `json:"completed_methods"`
	RemainingMethods []FactorType `json:"remaining_methods"`
	Reason           error        `json:"-"`
	ExpiresAt        time.Time    `json:"expires_at"`
}

// SignatureAuthorization is returned when a completed step-up session is
// exchanged for permission to create an AES signature.
type SignatureAuthorization struct {
	SessionID    string
	UserID       string
	Methods      []FactorType
	Level        compliance.Level
	AuthorizedAt time.Time
}

// AuthenticatorSetup carries the provisioning data for an authenticator app.
type AuthenticatorSetup struct {
	SecretBase32 string
	URI          string
}

// TwoFactorStatus is the display view of a profile.
type TwoFactorStatus struct {
	UserID               string
	EnabledMethods       []FactorType
	EmailVerified        bool
	PhoneNumber          string
	PhoneVerified        bool
	AuthenticatorEnabled bool
}

// DeletionSchedule reports a scheduled deletion.
type DeletionSchedule struct {
	UserID          string
	ScheduledAt     time.Time
	RevokedSessions int
}
