package neoauth

import (
	"io"

	"github.com/neosign/neoauth/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one entry of the audit trail. IDs are ULIDs.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's async dispatcher.
type AuditSink = audit.Sink

type (
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	ZapSink        = audit.ZapSink
)

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewZapSink writes audit events as structured log entries.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return audit.NewZapSink(logger)
}
