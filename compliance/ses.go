package compliance

const (
	ReqValidationMethod  = "validation method required"
	ReqValidatedIdentity = "validated identity with validation timestamp required"
	ReqCreationTimestamp = "creation timestamp required"
	ReqAuditTrail        = "IP address and user agent required"
	ReqSignatureData     = "signature data required"
)

// ComputeSES evaluates the simple-signature conditions over the base fields.
// It ignores the Kind tag so it can also serve as the AES fallback.
func ComputeSES(sig *Signature) Report {
	b := sig.Base
	r := Report{}

	r.check(b.ValidationMethod != "", ReqValidationMethod)
	r.check(b.IsValidated && b.ValidatedAt != nil, ReqValidatedIdentity)
	r.check(b.CreatedAt != nil, ReqCreationTimestamp)
	r.check(b.IPAddress != "" && b.UserAgent != "", ReqAuditTrail)
	r.check(b.SignatureData != "", ReqSignatureData)

	r.IsCompliant = len(r.Unsatisfied) == 0
	if r.IsCompliant {
		r.Level, r.LegalValue = LevelSES, LegalBasic
	} else {
		r.Level, r.LegalValue = LevelNone, LegalBasic
	}
	return r
}
