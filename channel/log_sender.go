package channel

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogSender satisfies both sender interfaces by logging the delivery
// metadata. Message bodies are written only by a sender built with
// [NewDevLogSender].
type LogSender struct {
	logger    *zap.Logger
	logBodies bool
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger.Named("channel")}
}

// NewDevLogSender logs each message body, live codes included, at warn
// level. It exists for local development without an SMS or email provider.
func NewDevLogSender(logger *zap.Logger) *LogSender {
	s := NewLogSender(logger)
	s.logBodies = true
	return s
}

func (s *LogSender) SendSMS(_ context.Context, toE164, message string) (SMSResult, error) {
	id := uuid.NewString()
	if s.logBodies {
		s.logger.Warn("sms not delivered, logged for development",
			zap.String("to", toE164),
			zap.String("body", message),
			zap.String("message_id", id),
		)
		return SMSResult{MessageID: id, Status: "logged"}, nil
	}
	s.logger.Info("sms queued",
		zap.String("to", MaskDestination(toE164)),
		zap.Int("length", len(message)),
		zap.String("message_id", id),
	)
	return SMSResult{MessageID: id, Status: "logged"}, nil
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, html string) error {
	if s.logBodies {
		s.logger.Warn("email not delivered, logged for development",
			zap.String("to", to),
			zap.String("subject", subject),
			zap.String("body", html),
		)
		return nil
	}
	s.logger.Info("email queued",
		zap.String("to", MaskDestination(to)),
		zap.String("subject", subject),
		zap.Int("length", len(html)),
	)
	return nil
}
