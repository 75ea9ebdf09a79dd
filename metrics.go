package neoauth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricCodeIssued counts one-time codes issued.
	MetricCodeIssued MetricID = iota
	// MetricCodeVerified counts successful one-time code verifications.
	MetricCodeVerified
	MetricCodeNotFound
	MetricCodeExpired
	MetricCodeMismatch
	// MetricCodeSwept counts expired codes removed by cleanup.
	MetricCodeSwept
	MetricCodeRateLimited
	// MetricStepUpCreated counts step-up sessions created.
	MetricStepUpCreated
	MetricStepUpFactorSuccess
	MetricStepUpFactorFailure
	MetricStepUpCompleted
	MetricStepUpExpired
	MetricStepUpAttemptsExceeded
	MetricStepUpCancelled
	// MetricDeliveryFailure counts codes whose delivery returned an error.
	MetricDeliveryFailure
	MetricTOTPSuccess
	MetricTOTPFailure
	MetricTOTPReplay
	// MetricAESAuthorized counts completed sessions exchanged for AES signing.
	MetricAESAuthorized
	MetricComplianceReport
	MetricComplianceQES
	MetricComplianceAES
	MetricComplianceSES
	MetricComplianceNone
	MetricTwoFactorEnabled
	MetricDeletionScheduled
	MetricDeletionRejected
	MetricDeletionCancelled
	MetricSessionCreated
	MetricSessionRevoked
	// MetricValidateFactorLatency is the only histogram.
	MetricValidateFactorLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters. A disabled Metrics ignores
// every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc is a no-op when metrics are disabled or id is out of range. It is safe
// for concurrent use.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Add increments id by n.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d in the latency histogram of id. Only
// MetricValidateFactorLatency carries a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricValidateFactorLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter. Disabled metrics return empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricValidateFactorLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricValidateFactorLatency].buckets[i])
		}
		s.Histograms[MetricValidateFactorLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
