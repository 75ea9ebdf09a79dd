package compliance

import (
	"errors"
	"fmt"
)

var (
	// ErrAESRequirementsNotMet groups the factor-set failures of the AES gate.
	ErrAESRequirementsNotMet = errors.New("AES requires at least 2 distinct authentication methods")
	// ErrInsufficientFactors means fewer than two factors were completed.
	ErrInsufficientFactors = fmt.Errorf("%w: insufficient factors", ErrAESRequirementsNotMet)
	// ErrDiversityRuleFailed means enough factors completed but no valid pair.
	ErrDiversityRuleFailed = fmt.Errorf("%w: diversity rule failed", ErrAESRequirementsNotMet)

	ErrUnknownSignatureKind = errors.New("unknown signature kind")
	ErrInvalidSignature     = errors.New("invalid signature document")
)
