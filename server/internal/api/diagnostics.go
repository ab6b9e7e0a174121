package api

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/markbook/markbook/pkg/grade"
	"github.com/markbook/markbook/pkg/transport"
	"github.com/markbook/markbook/pkg/types"
)

const (
	// staleAfter is the report age past which a tenant is flagged as stale.
	staleAfter = 48 * time.Hour
	// criticalShareWarn is the share of critical students that raises a hint.
	criticalShareWarn = 20.0
)

// DiagnosticHint is one human-readable insight about a tenant's report.
// The dashboard shows these as chips on the tenant card; Detail is the
// longer explanation shown on click.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label shown on the chip.
	Title string `json:"title"`
	// Detail is the full explanation shown on click/hover.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

var levelOrder = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives hints from a stored report. Hints are ordered
// critical first, then warnings, then info.
func computeDiagnostics(rep *transport.Report, now time.Time) []DiagnosticHint {
	var hints []DiagnosticHint
	data := rep.Data

	// ── Grade band table ─────────────────────────────────────────────────────
	for i, iss := range data.Diagnostics {
		h := DiagnosticHint{
			Key:    fmt.Sprintf("bands_%s_%d", iss.Kind, i),
			Detail: iss.String() + ".",
		}
		switch iss.Kind {
		case grade.IssueEmpty:
			h.Level, h.Title = "critical", "No grade bands"
			h.Detail = "This tenant has no grade bands configured, so no result " +
				"can be given a letter grade. Percentages and ranks are still computed."
		case grade.IssueGap:
			h.Level, h.Title = "warning", "Gap in grade bands"
			h.Detail += " Results whose percentage falls in this range are left ungraded."
		case grade.IssueOverlap:
			h.Level, h.Title = "warning", "Overlapping grade bands"
			h.Detail += " Scores in the overlap get the band with the higher minimum."
		case grade.IssueInverted:
			h.Level, h.Title = "warning", "Inverted grade band"
			h.Detail += " The band never matches any percentage."
		default:
			h.Level, h.Title = "info", "Grade band issue"
		}
		hints = append(hints, h)
	}

	// ── Ungraded results ─────────────────────────────────────────────────────
	ungraded := 0
	for _, r := range data.Results {
		if r.Percentage != nil && r.Grade == nil {
			ungraded++
		}
	}
	if ungraded > 0 {
		v := float64(ungraded)
		hints = append(hints, DiagnosticHint{
			Key:   "ungraded_results",
			Level: "warning",
			Title: fmt.Sprintf("%d ungraded", ungraded),
			Detail: fmt.Sprintf("%d scored results matched no grade band. "+
				"Check the band table for gaps near those percentages.", ungraded),
			Value: &v,
		})
	}

	// ── Absentees per group ──────────────────────────────────────────────────
	absent := map[types.GroupKey]int{}
	for _, r := range data.Results {
		if r.Absent() {
			absent[r.Key()]++
		}
	}
	keys := make([]types.GroupKey, 0, len(absent))
	for k := range absent {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	for _, k := range keys {
		v := float64(absent[k])
		hints = append(hints, DiagnosticHint{
			Key:   "absentees_" + k.ExamID + "_" + k.SubjectID,
			Level: "info",
			Title: fmt.Sprintf("%d absent in %s", absent[k], k),
			Detail: fmt.Sprintf("%d students have no marks recorded for %s. "+
				"They are listed without a rank and do not count towards averages.", absent[k], k),
			Value: &v,
		})
	}

	// ── Attendance coverage ──────────────────────────────────────────────────
	if len(data.Results) > 0 && len(data.Attendance) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "no_attendance",
			Level: "info",
			Title: "No attendance data",
			Detail: "The report has exam results but no attendance events. " +
				"Risk levels are being decided on average score alone.",
		})
	}

	// ── Critical share ───────────────────────────────────────────────────────
	if n := len(data.Risk); n > 0 {
		crit := 0
		for _, a := range data.Risk {
			if a.RiskLevel == types.RiskCritical {
				crit++
			}
		}
		share := types.Round(float64(crit)/float64(n)*100, 1)
		if share >= criticalShareWarn {
			hints = append(hints, DiagnosticHint{
				Key:   "critical_share",
				Level: "critical",
				Title: fmt.Sprintf("%.1f%% critical", share),
				Detail: fmt.Sprintf("%d of %d students are classified critical. "+
					"A share this high often points at missing data or a threshold "+
					"that does not suit this tenant.", crit, n),
				Value: &share,
			})
		}
	}

	// ── Report age ───────────────────────────────────────────────────────────
	if age := now.Sub(rep.GeneratedAt); age > staleAfter {
		hours := types.Round(age.Hours(), 1)
		hints = append(hints, DiagnosticHint{
			Key:   "stale_report",
			Level: "warning",
			Title: "Report is old",
			Detail: fmt.Sprintf("This report was generated %s ago. "+
				"Check that the worker is still running for this tenant.",
				strings.TrimSuffix(age.Truncate(time.Minute).String(), "0s")),
			Value: &hours,
		})
	}

	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "All clear",
			Detail: "Grade bands cover every score and nothing in this report needs attention.",
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelOrder[hints[i].Level] < levelOrder[hints[j].Level]
	})
	return hints
}

// countIssues counts warning and critical hints.
func countIssues(hints []DiagnosticHint) int {
	n := 0
	for _, h := range hints {
		if h.Level == "warning" || h.Level == "critical" {
			n++
		}
	}
	return n
}
