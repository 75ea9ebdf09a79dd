// Package prometheus renders neoauth engine metrics in the Prometheus text
// format. Mount [Exporter.Handler] on a scrape path; nothing is registered in a
// global registry.
package prometheus
