package security

import "time"

// Report summarizes the security-relevant posture of an engine
// configuration. Findings lists settings a production deployment should
// review.
type Report struct {
	ProductionMode        bool
	SigningAlgorithm      string
	CodeBackend           string
	CodeTTL               time.Duration
	RequirementTTL        time.Duration
	TokenTTL              time.Duration
	MinCompletedFactors   int
	TOTPSkew              int
	TOTPReplayProtection  bool
	AttemptLimitingActive bool
	IssueThrottleActive   bool
	CodeSweepActive       bool
	AuditEnabled          bool
	DeletionGracePeriod   time.Duration
	Findings              []string
}

type ReportInput struct {
	ProductionMode          bool
	SigningAlgorithm        string
	CodeBackend             string
	CodeTTL                 time.Duration
	RequirementTTL          time.Duration
	TokenTTL                time.Duration
	MinCompletedFactors     int
	TOTPSkew                int
	EnforceReplayProtection bool
	MaxFailedAttempts       int
	MaxIssuePerWindow       int
	SweepInterval           time.Duration
	AuditEnabled            bool
	DeletionGracePeriod     time.Duration
}

func BuildReport(input ReportInput) Report {
	report := Report{
		ProductionMode:        input.ProductionMode,
		SigningAlgorithm:      input.SigningAlgorithm,
		CodeBackend:           input.CodeBackend,
		CodeTTL:               input.CodeTTL,
		RequirementTTL:        input.RequirementTTL,
		TokenTTL:              input.TokenTTL,
		MinCompletedFactors:   input.MinCompletedFactors,
		TOTPSkew:              input.TOTPSkew,
		TOTPReplayProtection:  input.EnforceReplayProtection,
		AttemptLimitingActive: input.MaxFailedAttempts > 0,
		IssueThrottleActive:   input.MaxIssuePerWindow > 0,
		CodeSweepActive:       input.SweepInterval > 0,
		AuditEnabled:          input.AuditEnabled,
		DeletionGracePeriod:   input.DeletionGracePeriod,
	}

	if input.CodeBackend == "memory" {
		report.Findings = append(report.Findings, "one-time codes are lost on restart with the memory backend")
	}
	if input.CodeBackend == "memory" && !report.CodeSweepActive {
		report.Findings = append(report.Findings, "expired codes are only evicted on verify without a sweep interval")
	}
	if !report.AttemptLimitingActive {
		report.Findings = append(report.Findings, "step-up factor retries are unlimited")
	}
	if !report.IssueThrottleActive {
		report.Findings = append(report.Findings, "code issuance is not throttled")
	}
	if !report.TOTPReplayProtection {
		report.Findings = append(report.Findings, "authenticator codes may be replayed within their window")
	}
	if input.TOTPSkew > 1 {
		report.Findings = append(report.Findings, "authenticator skew above one step widens the guessing window")
	}
	if !report.AuditEnabled {
		report.Findings = append(report.Findings, "audit trail disabled")
	}
	return report
}
