package neoauth

import (
	"sync"
	"time"

	"github.com/neosign/neoauth/internal/audit"
	"github.com/neosign/neoauth/internal/flows"
	"github.com/neosign/neoauth/internal/rate"
	"github.com/neosign/neoauth/internal/stores"
	"github.com/neosign/neoauth/jwt"
	"github.com/neosign/neoauth/session"
	"go.uber.org/zap"
)

// Engine coordinates one-time codes, step-up sessions, the compliance
// engine and the account deletion gate. Create it with [New] and
// [Builder.Build]; all methods are safe for concurrent use.
type Engine struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	codeStore    stores.CodeStore
	stepUpStore  *stores.StepUpStore
	sessionStore *session.Store
	limiter      *rate.Limiter
	audit        *audit.Dispatcher
	metrics      *Metrics
	totp         *totpManager
	jwtManager   *jwt.Manager
	flows        flows.Deps

	userProvider UserProvider
	smsSender    SMSSender
	emailSender  EmailSender
	hardware     HardwareVerifier

	sweepStop chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

// Close stops the background code sweep and drains the audit dispatcher.
// It is safe to call more than once.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		if e.sweepStop != nil {
			close(e.sweepStop)
			<-e.sweepDone
		}
		if e.audit != nil {
			e.audit.Close()
		}
		_ = e.logger.Sync()
	})
}

// AuditDropped returns the number of audit events discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}
