// Package postgres is a pgx-backed neoauth.UserProvider. Apply [Schema]
// with [Provider.Migrate] before use.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neosign/neoauth"
)

// ErrInconsistentProfile is returned when a profile lists a method whose
// flag is unset, or the reverse.
var ErrInconsistentProfile = errors.New("two-factor profile methods disagree with flags")

// DB is the subset of *pgxpool.Pool the provider uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Provider implements neoauth.UserProvider on Postgres.
type Provider struct {
	db DB
}

func New(db DB) *Provider {
	return &Provider{db: db}
}

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	return pool, nil
}

// Migrate applies Schema.
func (p *Provider) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateUser inserts a user. An empty status becomes active.
func (p *Provider) CreateUser(ctx context.Context, user neoauth.UserRecord) error {
	if user.Status == "" {
		user.Status = neoauth.AccountActive
	}
	const q = `
		INSERT INTO neosign_users (id, email, account_status)
		VALUES ($1, $2, $3)
	`
	if _, err := p.db.Exec(ctx, q, user.UserID, user.Email, string(user.Status)); err != nil {
		return fmt.Errorf("failed to create user %s: %w", user.UserID, err)
	}
	return nil
}

func (p *Provider) GetUser(ctx context.Context, userID string) (neoauth.UserRecord, error) {
	const q = `
		SELECT id, email, account_status, deletion_requested_at, deletion_scheduled_at, deletion_reason
		FROM neosign_users
		WHERE id = $1
	`
	var (
		user   neoauth.UserRecord
		status string
	)
	err := p.db.QueryRow(ctx, q, userID).Scan(
		&user.UserID,
		&user.Email,
		&status,
		&user.DeletionRequestedAt,
		&user.DeletionScheduledAt,
		&user.DeletionReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return neoauth.UserRecord{}, neoauth.ErrUserNotFound
		}
		return neoauth.UserRecord{}, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	user.Status = neoauth.AccountStatus(status)
	return user, nil
}

func (p *Provider) UpdateUser(ctx context.Context, user neoauth.UserRecord) error {
	const q = `
		UPDATE neosign_users
		SET email = $1,
		    account_status = $2,
		    deletion_requested_at = $3,
		    deletion_scheduled_at = $4,
		    deletion_reason = $5
		WHERE id = $6
	`
	tag, err := p.db.Exec(ctx, q,
		user.Email,
		string(user.Status),
		user.DeletionRequestedAt,
		user.DeletionScheduledAt,
		user.DeletionReason,
		user.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", user.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return neoauth.ErrUserNotFound
	}
	return nil
}

// TransitionUser updates the row only while account_status still equals
// from. A miss is re-read to tell a conflict from an unknown user.
func (p *Provider) TransitionUser(ctx context.Context, user neoauth.UserRecord, from neoauth.AccountStatus) error {
	const q = `
		UPDATE neosign_users
		SET email = $1,
		    account_status = $2,
		    deletion_requested_at = $3,
		    deletion_scheduled_at = $4,
		    deletion_reason = $5
		WHERE id = $6 AND account_status = $7
	`
	tag, err := p.db.Exec(ctx, q,
		user.Email,
		string(user.Status),
		user.DeletionRequestedAt,
		user.DeletionScheduledAt,
		user.DeletionReason,
		user.UserID,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to transition user %s: %w", user.UserID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	const check = `SELECT EXISTS (SELECT 1 FROM neosign_users WHERE id = $1)`
	if err := p.db.QueryRow(ctx, check, user.UserID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to load user %s: %w", user.UserID, err)
	}
	if !exists {
		return neoauth.ErrUserNotFound
	}
	return neoauth.ErrAccountStatusConflict
}

func (p *Provider) GetTwoFactorProfile(ctx context.Context, userID string) (neoauth.TwoFactorProfile, error) {
	const q = `
		SELECT u.id,
		       COALESCE(t.enabled_methods, '{}'),
		       t.email_verified_at,
		       COALESCE(t.phone_number, ''),
		       COALESCE(t.phone_verified, FALSE),
		       t.authenticator_secret,
		       t.pending_authenticator_secret,
		       COALESCE(t.authenticator_enabled, FALSE),
		       COALESCE(t.last_used_counter, 0)
		FROM neosign_users u
		LEFT JOIN neosign_two_factor t ON t.user_id = u.id
		WHERE u.id = $1
	`
	var (
		profile neoauth.TwoFactorProfile
		methods []string
		emailAt *time.Time
	)
	err := p.db.QueryRow(ctx, q, userID).Scan(
		&profile.UserID,
		&methods,
		&emailAt,
		&profile.PhoneNumber,
		&profile.PhoneVerified,
		&profile.AuthenticatorSecret,
		&profile.PendingAuthenticatorSecret,
		&profile.AuthenticatorEnabled,
		&profile.LastUsedCounter,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return neoauth.TwoFactorProfile{}, neoauth.ErrUserNotFound
		}
		return neoauth.TwoFactorProfile{}, fmt.Errorf("failed to load two-factor profile %s: %w", userID, err)
	}

	profile.EmailVerifiedAt = emailAt
	profile.EnabledMethods = make([]neoauth.FactorType, 0, len(methods))
	for _, m := range methods {
		profile.EnabledMethods = append(profile.EnabledMethods, neoauth.FactorType(m))
	}
	return profile, nil
}

func (p *Provider) SaveTwoFactorProfile(ctx context.Context, profile neoauth.TwoFactorProfile) error {
	if !profile.Consistent() {
		return ErrInconsistentProfile
	}

	methods := make([]string, 0, len(profile.EnabledMethods))
	for _, m := range profile.EnabledMethods {
		methods = append(methods, string(m))
	}

	const q = `
		INSERT INTO neosign_two_factor (
			user_id, enabled_methods, email_verified_at, phone_number, phone_verified,
			authenticator_secret, pending_authenticator_secret, authenticator_enabled, last_used_counter
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			enabled_methods = EXCLUDED.enabled_methods,
			email_verified_at = EXCLUDED.email_verified_at,
			phone_number = EXCLUDED.phone_number,
			phone_verified = EXCLUDED.phone_verified,
			authenticator_secret = EXCLUDED.authenticator_secret,
			pending_authenticator_secret = EXCLUDED.pending_authenticator_secret,
			authenticator_enabled = EXCLUDED.authenticator_enabled,
			last_used_counter = EXCLUDED.last_used_counter
	`
	_, err := p.db.Exec(ctx, q,
		profile.UserID,
		methods,
		profile.EmailVerifiedAt,
		profile.PhoneNumber,
		profile.PhoneVerified,
		profile.AuthenticatorSecret,
		profile.PendingAuthenticatorSecret,
		profile.AuthenticatorEnabled,
		profile.LastUsedCounter,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return neoauth.ErrUserNotFound
		}
		return fmt.Errorf("failed to save two-factor profile %s: %w", profile.UserID, err)
	}
	return nil
}
