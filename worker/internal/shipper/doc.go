// Package shipper delivers transport.Report messages to markbook-server over
// the ReportService.SendReport unary RPC.
//
// Ship never blocks. The queue keeps one report per tenant, so a fresh pass
// replaces a report still waiting from the previous one. Once the queue holds
// buffer_size tenants (default 100) the longest-waiting report is dropped.
//
// Run keeps a connection open and drains the queue. Reconnects wait 1s,
// doubling up to 60s, with ±25% jitter. InvalidArgument, Unauthenticated and
// PermissionDenied discard the report. Any other send error puts it back at
// the head of the queue and reconnects.
//
// Auth is mTLS, an API key in outgoing metadata, or plaintext for local use.
package shipper
