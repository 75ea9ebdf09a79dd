package compliance

import (
	"strings"
	"time"
)

// MaxTimestampAge is the age after which a signature timestamp is stale.
const MaxTimestampAge = 24 * time.Hour

// strongAlgorithms are accepted at RSA-SHA256 strength or above.
var strongAlgorithms = map[string]struct{}{
	"RSA-SHA256":     {},
	"RSA-SHA384":     {},
	"RSA-SHA512":     {},
	"RSA-PSS-SHA256": {},
	"RSA-PSS-SHA384": {},
	"RSA-PSS-SHA512": {},
	"ECDSA-SHA256":   {},
	"ECDSA-SHA384":   {},
	"ECDSA-SHA512":   {},
	"ED25519":        {},
}

// StrongAlgorithm reports whether alg meets the minimum signature strength.
func StrongAlgorithm(alg string) bool {
	_, ok := strongAlgorithms[strings.ToUpper(strings.TrimSpace(alg))]
	return ok
}

// SecurityRequirements flags technical weaknesses independently of legal
// compliance. Each issue carries exactly one recommendation.
func SecurityRequirements(sig *Signature, now time.Time) SecurityAssessment {
	a := SecurityAssessment{}

	if !StrongAlgorithm(sig.Base.Algorithm) {
		a.flag("weak signature algorithm", "use RSA-SHA256 or a stronger algorithm")
	}

	if sig.AES != nil {
		if cert := sig.AES.Certificate; cert != nil && !cert.ValidTo.IsZero() && now.After(cert.ValidTo) {
			a.flag("certificate expired", "renew the signing certificate")
		}
		if !sig.AES.IsTwoFactorValidated {
			a.flag("two-factor authentication not validated", "complete two-factor authentication before signing")
		}
		if ts := sig.AES.Timestamp; ts != nil && now.Sub(ts.Time) > MaxTimestampAge {
			a.flag("timestamp older than 24 hours", "obtain a fresh timestamp from the trust authority")
		}
	} else if sig.Base.CreatedAt != nil && now.Sub(*sig.Base.CreatedAt) > MaxTimestampAge {
		a.flag("timestamp older than 24 hours", "re-sign to record a fresh timestamp")
	}

	a.IsValid = len(a.Issues) == 0
	return a
}
