package channel

import (
	"context"
	"errors"
)

// ErrDeliveryFailed is returned by adapters when the transport rejected a
// message.
var ErrDeliveryFailed = errors.New("channel delivery failed")

// SMSResult reports the transport outcome of one SMS.
type SMSResult struct {
	MessageID string
	Status    string
}

// SMSSender delivers text messages to E.164 phone numbers.
type SMSSender interface {
	SendSMS(ctx context.Context, toE164, message string) (SMSResult, error)
}

// EmailSender delivers HTML email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, html string) error
}

// MaskDestination keeps the last few characters of a phone number or the
// domain of an email address.
func MaskDestination(dest string) string {
	for i := 0; i < len(dest); i++ {
		if dest[i] == '@' {
			if i <= 1 {
				return "*" + dest[i:]
			}
			return dest[:1] + "***" + dest[i:]
		}
	}
	if len(dest) <= 4 {
		return "****"
	}
	return "****" + dest[len(dest)-4:]
}
