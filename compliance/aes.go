package compliance

import "time"

const (
	ReqQualifiedCertificate = "qualified certificate required"
	ReqCertificateValidity  = "certificate valid at signing time required"
	ReqTwoFactor            = "validated two-factor authentication required"
	ReqTrustedTimestamp     = "timestamp from a trust authority required"
	ReqValidationRecord     = "valid validation record required"
	ReqNonRepudiation       = "non-repudiation key usage required"
	ReqSigningTrace         = "signing trace (IP address, user agent, signedAt) required"

	keyUsageNonRepudiation = "non-repudiation"
)

// ComputeAES evaluates the advanced-signature conditions. Signatures without
// AES fields fail every AES-specific check.
func ComputeAES(sig *Signature) Report {
	aes := sig.AES
	if aes == nil {
		aes = &AESFields{}
	}
	b := sig.Base
	r := Report{}

	cert := aes.Certificate
	r.check(cert != nil && cert.IsQualified, ReqQualifiedCertificate)
	signedAt, hasSignedAt := signingTime(sig)
	r.check(cert != nil && hasSignedAt && cert.ValidAt(signedAt), ReqCertificateValidity)
	r.check(aes.TwoFactorMethod != "" && aes.IsTwoFactorValidated, ReqTwoFactor)
	r.check(aes.Timestamp != nil && aes.Timestamp.AuthorityURL != "", ReqTrustedTimestamp)
	r.check(aes.Validation != nil && aes.Validation.IsValid, ReqValidationRecord)
	r.check(cert.HasKeyUsage(keyUsageNonRepudiation), ReqNonRepudiation)
	r.check(b.SignatureData != "", ReqSignatureData)
	r.check(b.UserAgent != "" && b.IPAddress != "" && aes.SignedAt != nil, ReqSigningTrace)

	if cert != nil {
		r.Certificate = &CertificateInfo{
			Issuer:      cert.Issuer,
			ValidFrom:   cert.ValidFrom,
			ValidTo:     cert.ValidTo,
			IsQualified: cert.IsQualified,
		}
	}
	if aes.Timestamp != nil {
		r.Timestamp = &TimestampInfo{
			AuthorityURL: aes.Timestamp.AuthorityURL,
			Time:         aes.Timestamp.Time,
		}
	}

	r.IsCompliant = len(r.Unsatisfied) == 0
	switch {
	case r.IsCompliant && aes.QualifiedDevice:
		r.Level, r.LegalValue = LevelQES, LegalQualified
	case r.IsCompliant:
		r.Level, r.LegalValue = LevelAES, LegalAdvanced
	default:
		// Fall back to the SES tier of the base fields; no Basic default.
		if ComputeSES(sig).IsCompliant {
			r.Level, r.LegalValue = LevelSES, LegalBasic
		} else {
			r.Level, r.LegalValue = LevelNone, LegalNone
		}
	}
	return r
}

// signingTime prefers the AES signedAt and falls back to the base creation time.
func signingTime(sig *Signature) (time.Time, bool) {
	if sig.AES != nil && sig.AES.SignedAt != nil {
		return *sig.AES.SignedAt, true
	}
	if sig.Base.CreatedAt != nil {
		return *sig.Base.CreatedAt, true
	}
	return time.Time{}, false
}
