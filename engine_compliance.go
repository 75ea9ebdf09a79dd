package neoauth

import (
	"context"

	"github.com/neosign/neoauth/compliance"
)

// ComplianceReport evaluates sig against the eIDAS tiers and the security
// checks. Reports are pure functions of sig and the engine clock.
func (e *Engine) ComplianceReport(ctx context.Context, sig *compliance.Signature) (*compliance.FullReport, error) {
	report, err := compliance.GenerateReport(sig, e.clock())
	if err != nil {
		e.emitAudit(ctx, auditEventComplianceReport, false, "", "", err, nil)
		return nil, err
	}

	e.metricInc(MetricComplianceReport)
	switch report.Level {
	case compliance.LevelQES:
		e.metricInc(MetricComplianceQES)
	case compliance.LevelAES:
		e.metricInc(MetricComplianceAES)
	case compliance.LevelSES:
		e.metricInc(MetricComplianceSES)
	default:
		e.metricInc(MetricComplianceNone)
	}

	e.emitAudit(ctx, auditEventComplianceReport, true, "", "", nil, func() map[string]string {
		return map[string]string{
			"kind":        string(sig.Kind),
			"level":       string(report.Level),
			"legal_value": string(report.LegalValue),
		}
	})
	return report, nil
}
