package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neosign/neoauth/compliance"
	"github.com/neosign/neoauth/internal/stores"
)

const stepUpCodePurposePrefix = "stepup:"

// StepUpCodePurpose is the one-time code purpose bound to a single
// requirement.
func StepUpCodePurpose(requirementID string) string {
	return stepUpCodePurposePrefix + requirementID
}

type StepUpInput struct {
	UserID    string
	IPAddress string
	UserAgent string
	Purpose   string
	Factors   []compliance.Method
}

// StepUpProfile is the subset of a user's two-factor profile needed to
// build requirements.
type StepUpProfile struct {
	Email                string
	PhoneNumber          string
	AuthenticatorEnabled bool
}

type StepUpCreated struct {
	Session        *stores.StepUpSession
	DeliveryFailed bool
}

// StepUpSummary splits the requirement types of a session. Reason is nil
// once the session is completed.
type StepUpSummary struct {
	CompletedMethods []compliance.Method
	RemainingMethods []compliance.Method
	Reason           error
}

type StepUpMetrics struct {
	Created          int
	FactorSuccess    int
	FactorFailure    int
	Completed        int
	Expired          int
	AttemptsExceeded int
	DeliveryFailure  int
	Cancelled        int
}

type StepUpEvents struct {
	Created          string
	FactorValidated  string
	FactorFailed     string
	Completed        string
	DeliveryFailed   string
	Resent           string
	Cancelled        string
	AttemptsExceeded string
}

type StepUpErrors struct {
	EngineNotReady     error
	InvalidRequest     error
	UnknownFactor      error
	FactorNotEnrolled  error
	FactorUnsupported  error
	FactorNotRequested error
	InvalidCode        error
	CodeExpired        error
	CodeUnavailable    error
	SessionNotFound    error
	SessionExpired     error
	NotCompleted       error
	Unavailable        error
	AttemptsExceeded   error
	DeliveryFailed     error
}

type StepUpDeps struct {
	MaxFactors          int
	MinCompletedFactors int
	RequirementTTL      time.Duration
	SessionRetention    time.Duration
	DefaultIPAddress    string
	DefaultUserAgent    string

	Now   func() time.Time
	NewID func() string

	LoadProfile func(context.Context, string) (StepUpProfile, error)

	IssueCode      func(ctx context.Context, subject, purpose string, ttl time.Duration) (string, error)
	VerifyCode     func(ctx context.Context, subject, purpose, code string) error
	RestoreCode    func(ctx context.Context, subject, purpose, code string, expiresAt time.Time) error
	VerifyTOTP     func(ctx context.Context, userID, code string) error
	VerifyHardware func(ctx context.Context, userID, assertion string) error
	Deliver        func(ctx context.Context, factor compliance.Method, destination, code string) error

	SaveSession         func(context.Context, *stores.StepUpSession, time.Duration) error
	GetSession          func(context.Context, string) (*stores.StepUpSession, error)
	DeleteSession       func(context.Context, string) (bool, error)
	CompleteRequirement func(context.Context, string, string, time.Time, func(*stores.StepUpSession) bool) (*stores.StepUpSession, bool, error)
	ConsumeSession      func(context.Context, string, func(*stores.StepUpSession) error) (*stores.StepUpSession, error)

	// CheckAttempts, RecordFailure and ResetAttempts are nil when attempt
	// limiting is off.
	CheckAttempts func(context.Context, string) error
	RecordFailure func(context.Context, string)
	ResetAttempts func(context.Context, string)

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, string, error, func() map[string]string)

	Metrics StepUpMetrics
	Events  StepUpEvents
	Errors  StepUpErrors
}

// RunCreateStepUp validates every requested factor before issuing any
// code, persists the session and then delivers the codes. A delivery
// failure does not invalidate the issued code.
func RunCreateStepUp(ctx context.Context, in StepUpInput, deps StepUpDeps) (*StepUpCreated, error) {
	normalizeStepUpDeps(&deps)

	if deps.LoadProfile == nil || deps.IssueCode == nil || deps.SaveSession == nil || deps.Deliver == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if in.UserID == "" {
		return nil, deps.Errors.InvalidRequest
	}

	factors := in.Factors
	if deps.MaxFactors > 0 && len(factors) > deps.MaxFactors {
		factors = factors[:deps.MaxFactors]
	}

	profile, err := deps.LoadProfile(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	destinations := make([]string, len(factors))
	for i, factor := range factors {
		switch factor {
		case compliance.MethodSMS:
			if profile.PhoneNumber == "" {
				return nil, fmt.Errorf("%w: %s", deps.Errors.FactorNotEnrolled, factor)
			}
			destinations[i] = profile.PhoneNumber
		case compliance.MethodEmail:
			if profile.Email == "" {
				return nil, fmt.Errorf("%w: %s", deps.Errors.FactorNotEnrolled, factor)
			}
			destinations[i] = profile.Email
		case compliance.MethodAuthenticator:
			if !profile.AuthenticatorEnabled {
				return nil, fmt.Errorf("%w: %s", deps.Errors.FactorNotEnrolled, factor)
			}
		case compliance.MethodHardware:
			if deps.VerifyHardware == nil {
				return nil, deps.Errors.FactorUnsupported
			}
		default:
			return nil, fmt.Errorf("%w: %q", deps.Errors.UnknownFactor, string(factor))
		}
	}

	now := deps.Now()
	expiresAt := now.Add(deps.RequirementTTL).UnixMilli()

	session := &stores.StepUpSession{
		ID:           deps.NewID(),
		UserID:       in.UserID,
		Purpose:      in.Purpose,
		IPAddress:    in.IPAddress,
		UserAgent:    in.UserAgent,
		CreatedAt:    now.UnixMilli(),
		Requirements: make([]stores.StepUpRequirement, 0, len(factors)),
	}
	if session.IPAddress == "" {
		session.IPAddress = deps.DefaultIPAddress
	}
	if session.UserAgent == "" {
		session.UserAgent = deps.DefaultUserAgent
	}

	for i, factor := range factors {
		req := stores.StepUpRequirement{
			ID:          deps.NewID(),
			Type:        string(factor),
			Required:    true,
			Destination: destinations[i],
			ExpiresAt:   expiresAt,
		}
		if codeDelivered(factor) {
			code, err := deps.IssueCode(ctx, req.Destination, StepUpCodePurpose(req.ID), deps.RequirementTTL)
			if err != nil {
				return nil, err
			}
			req.Code = code
		}
		session.Requirements = append(session.Requirements, req)
	}

	if err := deps.SaveSession(ctx, session, deps.RequirementTTL+deps.SessionRetention); err != nil {
		return nil, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
	}

	out := &StepUpCreated{Session: session}
	for _, req := range session.Requirements {
		if req.Code == "" {
			continue
		}
		if err := deps.Deliver(ctx, compliance.Method(req.Type), req.Destination, req.Code); err != nil {
			out.DeliveryFailed = true
			deps.MetricInc(deps.Metrics.DeliveryFailure)
			deps.EmitAudit(ctx, deps.Events.DeliveryFailed, false, session.UserID, session.ID, deps.Errors.DeliveryFailed, func() map[string]string {
				return map[string]string{"factor": req.Type, "requirement_id": req.ID}
			})
		}
	}

	deps.MetricInc(deps.Metrics.Created)
	deps.EmitAudit(ctx, deps.Events.Created, true, session.UserID, session.ID, nil, func() map[string]string {
		return map[string]string{"purpose": session.Purpose, "factors": joinFactors(factors)}
	})
	return out, nil
}

// RunValidateFactor verifies code against the first incomplete requirement
// of factor and marks it complete. Completion of the session is decided on
// the requirement set read inside the same transaction. When the completion
// cannot be persisted, the consumed one-time code is restored through
// RestoreCode so the same code can be submitted again or resent.
func RunValidateFactor(ctx context.Context, sessionID string, factor compliance.Method, code string, deps StepUpDeps) (*stores.StepUpSession, error) {
	normalizeStepUpDeps(&deps)

	if deps.GetSession == nil || deps.CompleteRequirement == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if !factor.Valid() {
		return nil, fmt.Errorf("%w: %q", deps.Errors.UnknownFactor, string(factor))
	}

	session, err := loadStepUpSession(ctx, sessionID, deps)
	if err != nil {
		return nil, err
	}

	now := deps.Now()
	if !session.Completed && now.UnixMilli() > session.Deadline() {
		deps.MetricInc(deps.Metrics.Expired)
		return nil, deps.Errors.SessionExpired
	}

	req, requested := firstIncomplete(session, factor)
	if req == nil {
		if requested {
			return session, nil
		}
		return nil, fmt.Errorf("%w: %s", deps.Errors.FactorNotRequested, factor)
	}

	fail := func(err error) (*stores.StepUpSession, error) {
		deps.MetricInc(deps.Metrics.FactorFailure)
		deps.EmitAudit(ctx, deps.Events.FactorFailed, false, session.UserID, session.ID, err, func() map[string]string {
			return map[string]string{"factor": req.Type, "requirement_id": req.ID}
		})
		return nil, err
	}

	if req.ExpiresAt < now.UnixMilli() {
		return fail(deps.Errors.CodeExpired)
	}

	if deps.CheckAttempts != nil {
		if err := deps.CheckAttempts(ctx, session.ID); err != nil {
			if errors.Is(err, deps.Errors.AttemptsExceeded) {
				deps.MetricInc(deps.Metrics.AttemptsExceeded)
				deps.EmitAudit(ctx, deps.Events.AttemptsExceeded, false, session.UserID, session.ID, err, nil)
			}
			return nil, err
		}
	}

	if err := verifyFactor(ctx, session, req, code, deps); err != nil {
		mapped := classifyVerifyError(err, deps)
		if errors.Is(mapped, deps.Errors.InvalidCode) && deps.RecordFailure != nil {
			deps.RecordFailure(ctx, session.ID)
		}
		return fail(mapped)
	}

	decide := func(current *stores.StepUpSession) bool {
		return completionReason(current, deps.MinCompletedFactors) == nil
	}
	updated, completedNow, err := deps.CompleteRequirement(ctx, session.ID, req.ID, now, decide)
	if err != nil {
		if errors.Is(err, stores.ErrStepUpNotFound) {
			return nil, deps.Errors.SessionNotFound
		}
		if codeDelivered(compliance.Method(req.Type)) && deps.RestoreCode != nil {
			if rerr := deps.RestoreCode(ctx, req.Destination, StepUpCodePurpose(req.ID), req.Code, time.UnixMilli(req.ExpiresAt)); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
		return nil, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
	}

	if deps.ResetAttempts != nil {
		deps.ResetAttempts(ctx, session.ID)
	}
	deps.MetricInc(deps.Metrics.FactorSuccess)
	deps.EmitAudit(ctx, deps.Events.FactorValidated, true, updated.UserID, updated.ID, nil, func() map[string]string {
		return map[string]string{"factor": req.Type, "requirement_id": req.ID}
	})
	if completedNow {
		deps.MetricInc(deps.Metrics.Completed)
		deps.EmitAudit(ctx, deps.Events.Completed, true, updated.UserID, updated.ID, nil, func() map[string]string {
			return map[string]string{"purpose": updated.Purpose}
		})
	}
	return updated, nil
}

// RunCheckCompletion loads the session and summarizes it. An incomplete
// session past its deadline is reported as expired.
func RunCheckCompletion(ctx context.Context, sessionID string, deps StepUpDeps) (*stores.StepUpSession, StepUpSummary, error) {
	normalizeStepUpDeps(&deps)

	if deps.GetSession == nil {
		return nil, StepUpSummary{}, deps.Errors.EngineNotReady
	}
	session, err := loadStepUpSession(ctx, sessionID, deps)
	if err != nil {
		return nil, StepUpSummary{}, err
	}
	if !session.Completed && deps.Now().UnixMilli() > session.Deadline() {
		deps.MetricInc(deps.Metrics.Expired)
		return nil, StepUpSummary{}, deps.Errors.SessionExpired
	}
	return session, Summarize(session, deps.MinCompletedFactors), nil
}

// Summarize lists completed and remaining requirement types. Completed
// methods are distinct and in requirement order.
func Summarize(session *stores.StepUpSession, minCompleted int) StepUpSummary {
	summary := StepUpSummary{
		CompletedMethods: completedMethods(session),
		RemainingMethods: []compliance.Method{},
	}
	for _, req := range session.Requirements {
		if !req.Completed {
			summary.RemainingMethods = append(summary.RemainingMethods, compliance.Method(req.Type))
		}
	}
	if !session.Completed {
		summary.Reason = completionReason(session, minCompleted)
	}
	return summary
}

// RunResendFactorCode re-delivers the recorded code of the first incomplete
// requirement of factor. The code is not regenerated.
func RunResendFactorCode(ctx context.Context, sessionID string, factor compliance.Method, deps StepUpDeps) error {
	normalizeStepUpDeps(&deps)

	if deps.GetSession == nil || deps.Deliver == nil {
		return deps.Errors.EngineNotReady
	}
	if !factor.Valid() {
		return fmt.Errorf("%w: %q", deps.Errors.UnknownFactor, string(factor))
	}
	if !codeDelivered(factor) {
		return deps.Errors.FactorUnsupported
	}

	session, err := loadStepUpSession(ctx, sessionID, deps)
	if err != nil {
		return err
	}
	now := deps.Now()
	if !session.Completed && now.UnixMilli() > session.Deadline() {
		return deps.Errors.SessionExpired
	}

	req, requested := firstIncomplete(session, factor)
	if req == nil {
		if requested {
			return nil
		}
		return fmt.Errorf("%w: %s", deps.Errors.FactorNotRequested, factor)
	}
	if req.ExpiresAt < now.UnixMilli() {
		return deps.Errors.CodeExpired
	}

	if err := deps.Deliver(ctx, factor, req.Destination, req.Code); err != nil {
		deps.MetricInc(deps.Metrics.DeliveryFailure)
		deps.EmitAudit(ctx, deps.Events.DeliveryFailed, false, session.UserID, session.ID, deps.Errors.DeliveryFailed, func() map[string]string {
			return map[string]string{"factor": req.Type, "requirement_id": req.ID}
		})
		return fmt.Errorf("%w: %v", deps.Errors.DeliveryFailed, err)
	}

	deps.EmitAudit(ctx, deps.Events.Resent, true, session.UserID, session.ID, nil, func() map[string]string {
		return map[string]string{"factor": req.Type, "requirement_id": req.ID}
	})
	return nil
}

// RunCancelStepUp deletes the session. Outstanding codes expire on their
// own.
func RunCancelStepUp(ctx context.Context, sessionID string, deps StepUpDeps) error {
	normalizeStepUpDeps(&deps)

	if deps.DeleteSession == nil {
		return deps.Errors.EngineNotReady
	}
	if sessionID == "" {
		return deps.Errors.SessionNotFound
	}
	deleted, err := deps.DeleteSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
	}
	if !deleted {
		return deps.Errors.SessionNotFound
	}

	deps.MetricInc(deps.Metrics.Cancelled)
	deps.EmitAudit(ctx, deps.Events.Cancelled, true, "", sessionID, nil, nil)
	return nil
}

// RunConsumeStepUp removes a completed session owned by userID whose
// purpose matches. A session owned by someone else is reported as not
// found. The diversity rule is re-checked on the consumed state.
func RunConsumeStepUp(ctx context.Context, sessionID, userID, purpose string, deps StepUpDeps) (*stores.StepUpSession, error) {
	normalizeStepUpDeps(&deps)

	if deps.ConsumeSession == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if sessionID == "" || userID == "" {
		return nil, deps.Errors.InvalidRequest
	}

	now := deps.Now()
	consumed, err := deps.ConsumeSession(ctx, sessionID, func(session *stores.StepUpSession) error {
		if session.UserID != userID {
			return deps.Errors.SessionNotFound
		}
		if !session.Completed {
			if now.UnixMilli() > session.Deadline() {
				return deps.Errors.SessionExpired
			}
			return deps.Errors.NotCompleted
		}
		if purpose != "" && session.Purpose != purpose {
			return fmt.Errorf("%w: purpose %q", deps.Errors.InvalidRequest, session.Purpose)
		}
		return compliance.ValidateAESRequirements(completedTypes(session))
	})
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrStepUpNotFound):
			return nil, deps.Errors.SessionNotFound
		case errors.Is(err, stores.ErrStepUpBackend):
			return nil, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
		}
		return nil, err
	}
	return consumed, nil
}

func loadStepUpSession(ctx context.Context, sessionID string, deps StepUpDeps) (*stores.StepUpSession, error) {
	if sessionID == "" {
		return nil, deps.Errors.SessionNotFound
	}
	session, err := deps.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, stores.ErrStepUpNotFound) {
			return nil, deps.Errors.SessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
	}
	return session, nil
}

func verifyFactor(ctx context.Context, session *stores.StepUpSession, req *stores.StepUpRequirement, code string, deps StepUpDeps) error {
	switch compliance.Method(req.Type) {
	case compliance.MethodSMS, compliance.MethodEmail:
		if deps.VerifyCode == nil {
			return deps.Errors.EngineNotReady
		}
		return deps.VerifyCode(ctx, req.Destination, StepUpCodePurpose(req.ID), code)
	case compliance.MethodAuthenticator:
		if deps.VerifyTOTP == nil {
			return deps.Errors.FactorUnsupported
		}
		return deps.VerifyTOTP(ctx, session.UserID, code)
	case compliance.MethodHardware:
		if deps.VerifyHardware == nil {
			return deps.Errors.FactorUnsupported
		}
		return deps.VerifyHardware(ctx, session.UserID, code)
	}
	return deps.Errors.UnknownFactor
}

// classifyVerifyError keeps expiry and backend failures distinct and folds
// every other rejection into InvalidCode.
func classifyVerifyError(err error, deps StepUpDeps) error {
	switch {
	case errors.Is(err, deps.Errors.CodeExpired):
		return deps.Errors.CodeExpired
	case errors.Is(err, deps.Errors.CodeUnavailable),
		errors.Is(err, deps.Errors.Unavailable),
		errors.Is(err, deps.Errors.EngineNotReady),
		errors.Is(err, deps.Errors.FactorUnsupported),
		errors.Is(err, deps.Errors.FactorNotEnrolled):
		return err
	}
	return deps.Errors.InvalidCode
}

func completionReason(session *stores.StepUpSession, minCompleted int) error {
	completed := completedTypes(session)
	if err := compliance.ValidateAESRequirements(completed); err != nil {
		return err
	}
	if len(completed) < minCompleted {
		return compliance.ErrInsufficientFactors
	}
	return nil
}

// completedTypes lists the type of every completed requirement, repeats
// included.
func completedTypes(session *stores.StepUpSession) []compliance.Method {
	out := make([]compliance.Method, 0, len(session.Requirements))
	for _, req := range session.Requirements {
		if req.Completed {
			out = append(out, compliance.Method(req.Type))
		}
	}
	return out
}

func completedMethods(session *stores.StepUpSession) []compliance.Method {
	out := []compliance.Method{}
	for _, req := range session.Requirements {
		if !req.Completed {
			continue
		}
		m := compliance.Method(req.Type)
		dup := false
		for _, seen := range out {
			if seen == m {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, m)
		}
	}
	return out
}

// firstIncomplete returns the first incomplete requirement of factor and
// whether the session asks for factor at all.
func firstIncomplete(session *stores.StepUpSession, factor compliance.Method) (*stores.StepUpRequirement, bool) {
	requested := false
	for i := range session.Requirements {
		req := &session.Requirements[i]
		if req.Type != string(factor) {
			continue
		}
		requested = true
		if !req.Completed {
			return req, true
		}
	}
	return nil, requested
}

func codeDelivered(factor compliance.Method) bool {
	return factor == compliance.MethodSMS || factor == compliance.MethodEmail
}

func joinFactors(factors []compliance.Method) string {
	out := ""
	for i, f := range factors {
		if i > 0 {
			out += ","
		}
		out += string(f)
	}
	return out
}

func normalizeStepUpDeps(deps *StepUpDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
	if deps.MinCompletedFactors <= 0 {
		deps.MinCompletedFactors = 2
	}
	if deps.Errors.InvalidCode == nil {
		deps.Errors.InvalidCode = errors.New("invalid code")
	}
}
