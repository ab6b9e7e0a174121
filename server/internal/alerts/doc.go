// Package alerts evaluates per-student rules against incoming reports and
// delivers webhook notifications to Slack, Teams or generic HTTP targets when
// a rule fires or resolves.
package alerts
