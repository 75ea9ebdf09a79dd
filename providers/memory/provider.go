// Package memory is an in-process neoauth.UserProvider for tests, demos and
// the embedded daemon.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/neosign/neoauth"
)

// ErrInconsistentProfile is returned when a profile lists a method whose
// flag is unset, or the reverse.
var ErrInconsistentProfile = errors.New("two-factor profile methods disagree with flags")

// Provider is a concurrency-safe in-memory neoauth.UserProvider.
type Provider struct {
	mu       sync.RWMutex
	users    map[string]neoauth.UserRecord
	profiles map[string]neoauth.TwoFactorProfile
}

func New() *Provider {
	return &Provider{
		users:    make(map[string]neoauth.UserRecord),
		profiles: make(map[string]neoauth.TwoFactorProfile),
	}
}

// AddUser inserts or replaces a user. An empty status becomes active.
func (p *Provider) AddUser(user neoauth.UserRecord) {
	if user.Status == "" {
		user.Status = neoauth.AccountActive
	}
	p.mu.Lock()
	p.users[user.UserID] = cloneUser(user)
	p.mu.Unlock()
}

func (p *Provider) GetUser(_ context.Context, userID string) (neoauth.UserRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	user, ok := p.users[userID]
	if !ok {
		return neoauth.UserRecord{}, neoauth.ErrUserNotFound
	}
	return cloneUser(user), nil
}

func (p *Provider) UpdateUser(_ context.Context, user neoauth.UserRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.users[user.UserID]; !ok {
		return neoauth.ErrUserNotFound
	}
	p.users[user.UserID] = cloneUser(user)
	return nil
}

func (p *Provider) TransitionUser(_ context.Context, user neoauth.UserRecord, from neoauth.AccountStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	current, ok := p.users[user.UserID]
	if !ok {
		return neoauth.ErrUserNotFound
	}
	if current.Status != from {
		return neoauth.ErrAccountStatusConflict
	}
	p.users[user.UserID] = cloneUser(user)
	return nil
}

func (p *Provider) GetTwoFactorProfile(_ context.Context, userID string) (neoauth.TwoFactorProfile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.users[userID]; !ok {
		return neoauth.TwoFactorProfile{}, neoauth.ErrUserNotFound
	}
	profile, ok := p.profiles[userID]
	if !ok {
		return neoauth.TwoFactorProfile{UserID: userID}, nil
	}
	return cloneProfile(profile), nil
}

func (p *Provider) SaveTwoFactorProfile(_ context.Context, profile neoauth.TwoFactorProfile) error {
	if !profile.Consistent() {
		return ErrInconsistentProfile
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.users[profile.UserID]; !ok {
		return neoauth.ErrUserNotFound
	}
	p.profiles[profile.UserID] = cloneProfile(profile)
	return nil
}

func cloneUser(u neoauth.UserRecord) neoauth.UserRecord {
	u.DeletionRequestedAt = cloneTime(u.DeletionRequestedAt)
	u.DeletionScheduledAt = cloneTime(u.DeletionScheduledAt)
	return u
}

func cloneProfile(p neoauth.TwoFactorProfile) neoauth.TwoFactorProfile {
	p.EnabledMethods = slices.Clone(p.EnabledMethods)
	p.EmailVerifiedAt = cloneTime(p.EmailVerifiedAt)
	p.AuthenticatorSecret = slices.Clone(p.AuthenticatorSecret)
	p.PendingAuthenticatorSecret = slices.Clone(p.PendingAuthenticatorSecret)
	return p
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
