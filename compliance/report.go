package compliance

import (
	"fmt"
	"time"
)

// GenerateReport dispatches on the signature kind and bundles the legal
// compliance report with the security assessment.
func GenerateReport(sig *Signature, now time.Time) (*FullReport, error) {
	if sig == nil {
		return nil, ErrInvalidSignature
	}

	var report Report
	switch sig.Kind {
	case KindSES:
		report = ComputeSES(sig)
	case KindAES:
		report = ComputeAES(sig)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignatureKind, sig.Kind)
	}

	return &FullReport{
		Level:       report.Level,
		Compliance:  report,
		Security:    SecurityRequirements(sig, now),
		LegalValue:  report.LegalValue,
		GeneratedAt: now.UTC(),
	}, nil
}
