package compliance

// diversePairs are the factor pairs that satisfy AES diversity on their own.
var diversePairs = [][2]Method{
	{MethodSMS, MethodEmail},
	{MethodSMS, MethodAuthenticator},
	{MethodEmail, MethodAuthenticator},
}

// ValidateAESRequirements checks a completed-method set against the AES
// factor rule: hardware alone, or one of the distinct pairs in diversePairs.
// Repeated methods count once.
func ValidateAESRequirements(methods []Method) error {
	set := make(map[Method]struct{}, len(methods))
	for _, m := range methods {
		set[m] = struct{}{}
	}

	if _, ok := set[MethodHardware]; ok {
		return nil
	}
	if len(methods) < 2 {
		return ErrInsufficientFactors
	}
	for _, pair := range diversePairs {
		_, a := set[pair[0]]
		_, b := set[pair[1]]
		if a && b {
			return nil
		}
	}
	return ErrDiversityRuleFailed
}
