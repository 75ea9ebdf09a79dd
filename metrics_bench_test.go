package neoauth

import (
	"testing"
	"time"
)

func BenchmarkMetricsInc(b *testing.B) {
	for _, enabled := range []bool{true, false} {
		name := "enabled"
		if !enabled {
			name = "disabled"
		}
		b.Run(name, func(b *testing.B) {
			m := NewMetrics(MetricsConfig{Enabled: enabled})
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				m.Inc(MetricCodeVerified)
			}
		})
	}
}

func BenchmarkMetricsIncParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Inc(MetricStepUpFactorSuccess)
		}
	})
}

func BenchmarkMetricsObserveFactorLatencyParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	d := 12 * time.Millisecond
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Observe(MetricValidateFactorLatency, d)
		}
	})
}

// Counters touched by one completed sms+email step-up.
var stepUpHotMetricIDs = [...]MetricID{
	MetricStepUpCreated,
	MetricCodeIssued,
	MetricCodeIssued,
	MetricStepUpFactorSuccess,
	MetricStepUpFactorFailure,
	MetricStepUpFactorSuccess,
	MetricStepUpCompleted,
	MetricAESAuthorized,
}

func BenchmarkMetricsStepUpMixParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		idx := 0
		for pb.Next() {
			m.Inc(stepUpHotMetricIDs[idx])
			idx++
			if idx == len(stepUpHotMetricIDs) {
				idx = 0
			}
		}
	})
}

func BenchmarkMetricsSnapshot(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	for _, id := range stepUpHotMetricIDs {
		m.Inc(id)
	}
	m.Observe(MetricValidateFactorLatency, 3*time.Millisecond)
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = m.Snapshot()
	}
}
