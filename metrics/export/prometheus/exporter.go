package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/neosign/neoauth"
	"github.com/neosign/neoauth/metrics/export/internaldefs"
)

// AuditDroppedName is the series that reports audit events lost to backpressure.
const AuditDroppedName = "neoauth_audit_dropped_total"

// MetricsSource is satisfied by *neoauth.Engine.
type MetricsSource interface {
	MetricsSnapshot() neoauth.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter renders engine metrics in the Prometheus text exposition format.
type Exporter struct {
	source MetricsSource
}

// NewExporter returns an exporter that reads from engine on every scrape.
func NewExporter(engine *neoauth.Engine) *Exporter {
	return &Exporter{source: engine}
}

// NewExporterFromSource returns an exporter over an arbitrary MetricsSource.
func NewExporterFromSource(source MetricsSource) *Exporter {
	return &Exporter{source: source}
}

// Handler serves the rendered metrics.
func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the exposition text, or "" when metrics are disabled and
// nothing was dropped.
func (p *Exporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(4096)

	for _, def := range internaldefs.CounterDefs {
		writeCounter(&b, def.Name, def.Help, snapshot.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		writeHistogram(&b, def.Name, def.Help, internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw)))
	}
	writeCounter(&b, AuditDroppedName, "Audit events dropped by the dispatcher.", dropped)

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP " + name + " " + escapeHelp(help) + "\n")
	b.WriteString("# TYPE " + name + " " + kind + "\n")
}

func writeSample(b *strings.Builder, series string, value uint64) {
	b.WriteString(series)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	writeHeader(b, name, help, "counter")
	writeSample(b, name, value)
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [8]uint64) {
	writeHeader(b, name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		writeSample(b, name+`_bucket{le="`+le+`"}`, cumulative[i])
	}
	writeSample(b, name+"_count", cumulative[len(cumulative)-1])
	// Snapshots carry bucket counts only.
	writeSample(b, name+"_sum", 0)
}

func escapeHelp(help string) string {
	return strings.NewReplacer(`\`, `\\`, "\n", `\n`).Replace(help)
}
