// Package api implements the HTTP REST API for markbook-server.
//
// New(store, opts...) returns an http.Handler that serves:
//
//	GET /api/v1/health                              worst risk level and counts across tenants
//	GET /api/v1/tenants                             all tenants with a live report
//	GET /api/v1/tenants/{tenant}                    one tenant; 404 if unknown or stale
//	GET /api/v1/tenants/{tenant}/ranklist           ?exam=&subject=, falls back to the cache
//	GET /api/v1/tenants/{tenant}/students/{student} report card plus the student's alerts
//	GET /api/v1/tenants/{tenant}/attendance         summaries and calendar totals
//	GET /api/v1/tenants/{tenant}/at-risk            warning and critical students, ?level=
//	GET /api/v1/tenants/{tenant}/diagnostics        hints derived from the report
//	GET /api/v1/tenants/{tenant}/report             full stored report
//	GET /api/v1/alerts                              firing and recently resolved alerts, ?tenant=
//
// All endpoints:
//   - Respond with Content-Type: application/json
//   - Return 405 for non-GET methods
//   - Read live entries from the store (stale entries are treated as missing)
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
