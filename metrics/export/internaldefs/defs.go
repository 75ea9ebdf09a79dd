package internaldefs

import (
	"github.com/neosign/neoauth"
)

// CounterDef binds a counter MetricID to its exported name.
type CounterDef struct {
	ID   neoauth.MetricID
	Name string
	Help string
}

// HistogramDef binds a histogram MetricID to its exported name.
type HistogramDef struct {
	ID   neoauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: neoauth.MetricCodeIssued, Name: "neoauth_code_issued_total", Help: "One-time codes issued."},
	{ID: neoauth.MetricCodeVerified, Name: "neoauth_code_verified_total", Help: "One-time codes accepted."},
	{ID: neoauth.MetricCodeNotFound, Name: "neoauth_code_not_found_total", Help: "Verifications with no stored code."},
	{ID: neoauth.MetricCodeExpired, Name: "neoauth_code_expired_total", Help: "Verifications of expired codes."},
	{ID: neoauth.MetricCodeMismatch, Name: "neoauth_code_mismatch_total", Help: "Verifications with a wrong code."},
	{ID: neoauth.MetricCodeSwept, Name: "neoauth_code_swept_total", Help: "Expired codes removed by cleanup."},
	{ID: neoauth.MetricCodeRateLimited, Name: "neoauth_code_rate_limited_total", Help: "Code issuance denied by rate limit."},
	{ID: neoauth.MetricStepUpCreated, Name: "neoauth_stepup_created_total", Help: "Step-up sessions created."},
	{ID: neoauth.MetricStepUpFactorSuccess, Name: "neoauth_stepup_factor_success_total", Help: "Factors validated successfully."},
	{ID: neoauth.MetricStepUpFactorFailure, Name: "neoauth_stepup_factor_failure_total", Help: "Failed factor validations."},
	{ID: neoauth.MetricStepUpCompleted, Name: "neoauth_stepup_completed_total", Help: "Step-up sessions completed."},
	{ID: neoauth.MetricStepUpExpired, Name: "neoauth_stepup_expired_total", Help: "Step-up sessions found expired."},
	{ID: neoauth.MetricStepUpAttemptsExceeded, Name: "neoauth_stepup_attempts_exceeded_total", Help: "Step-up sessions locked by attempt cap."},
	{ID: neoauth.MetricStepUpCancelled, Name: "neoauth_stepup_cancelled_total", Help: "Step-up sessions cancelled."},
	{ID: neoauth.MetricDeliveryFailure, Name: "neoauth_delivery_failure_total", Help: "SMS or email deliveries that failed."},
	{ID: neoauth.MetricTOTPSuccess, Name: "neoauth_totp_success_total", Help: "Successful authenticator verifications."},
	{ID: neoauth.MetricTOTPFailure, Name: "neoauth_totp_failure_total", Help: "Failed authenticator verifications."},
	{ID: neoauth.MetricTOTPReplay, Name: "neoauth_totp_replay_total", Help: "Rejected authenticator code replays."},
	{ID: neoauth.MetricAESAuthorized, Name: "neoauth_aes_authorized_total", Help: "AES signatures authorized by step-up."},
	{ID: neoauth.MetricComplianceReport, Name: "neoauth_compliance_report_total", Help: "Compliance reports generated."},
	{ID: neoauth.MetricComplianceQES, Name: "neoauth_compliance_qes_total", Help: "Signatures classified as QES."},
	{ID: neoauth.MetricComplianceAES, Name: "neoauth_compliance_aes_total", Help: "Signatures classified as AES."},
	{ID: neoauth.MetricComplianceSES, Name: "neoauth_compliance_ses_total", Help: "Signatures classified as SES."},
	{ID: neoauth.MetricComplianceNone, Name: "neoauth_compliance_none_total", Help: "Signatures meeting no eIDAS level."},
	{ID: neoauth.MetricTwoFactorEnabled, Name: "neoauth_twofactor_enabled_total", Help: "Second factors enrolled."},
	{ID: neoauth.MetricDeletionScheduled, Name: "neoauth_deletion_scheduled_total", Help: "Account deletions scheduled."},
	{ID: neoauth.MetricDeletionRejected, Name: "neoauth_deletion_rejected_total", Help: "Account deletions rejected by preconditions."},
	{ID: neoauth.MetricDeletionCancelled, Name: "neoauth_deletion_cancelled_total", Help: "Scheduled account deletions cancelled."},
	{ID: neoauth.MetricSessionCreated, Name: "neoauth_session_created_total", Help: "Login sessions started."},
	{ID: neoauth.MetricSessionRevoked, Name: "neoauth_session_revoked_total", Help: "Login sessions revoked."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: neoauth.MetricValidateFactorLatency, Name: "neoauth_validate_factor_latency_seconds", Help: "ValidateFactor latency histogram."},
}

// HistogramBounds are the upper bounds of the fixed latency buckets, in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in a form usable inside instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, padding or truncating.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
