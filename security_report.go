package neoauth

import "github.com/neosign/neoauth/internal/security"

// SecurityReport is the configuration posture of an engine.
type SecurityReport = security.Report

// SecurityReport summarizes the active security settings and lists the
// ones a production deployment should review.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	return security.BuildReport(security.ReportInput{
		ProductionMode:          e.config.Security.ProductionMode,
		SigningAlgorithm:        e.config.JWT.SigningMethod,
		CodeBackend:             string(e.config.OneTimeCode.Backend),
		CodeTTL:                 e.config.OneTimeCode.DefaultTTL,
		RequirementTTL:          e.config.StepUp.RequirementTTL,
		TokenTTL:                e.config.JWT.TTL,
		MinCompletedFactors:     e.config.StepUp.MinCompletedFactors,
		TOTPSkew:                e.config.TOTP.Skew,
		EnforceReplayProtection: e.config.TOTP.EnforceReplayProtection,
		MaxFailedAttempts:       e.config.StepUp.MaxFailedAttempts,
		MaxIssuePerWindow:       e.config.OneTimeCode.MaxIssuePerWindow,
		SweepInterval:           e.config.OneTimeCode.SweepInterval,
		AuditEnabled:            e.config.Audit.Enabled,
		DeletionGracePeriod:     e.config.Deletion.GracePeriod,
	})
}
