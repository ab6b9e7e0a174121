// Package runner executes aggregation passes for every configured tenant.
//
// A pass reads one consistent snapshot from a source.Source, runs
// pipeline.Build over it and hands the resulting transport.Report to the
// shipper. Tenants are processed one after another and independently: a
// failing tenant is logged and counted, and the remaining tenants still run.
//
// Runner keeps per-tenant run state (last success, consecutive failures) and
// accepts a new configuration at any time via Update; the next pass uses it.
// Scheduler triggers passes on a robfig/cron schedule that can be replaced
// while running.
package runner
