// Package source loads one tenant's raw records for an aggregation pass.
//
// A Request names the tenant, academic year, Scope and attendance window. The
// Postgres implementation reads grade bands, exam rows and attendance events
// inside a single read-only REPEATABLE READ transaction, so every group in a
// pass is ranked from one consistent snapshot. Static serves fixed records for
// tests and dry runs.
//
// A narrower Scope picks the students a report covers, never the rows a rank
// is computed from: every exam×subject group an in-scope student sat is read
// in full, and Records.Students tells the pipeline whom to keep afterwards.
// Scope is resolved to parameterised SQL; IDs are never concatenated into
// query text.
package source
