// Package metrics exposes server counters and per-tenant gauges in the
// Prometheus text format. Counters are kept in memory; gauges are derived
// from the report store on every scrape.
package metrics
