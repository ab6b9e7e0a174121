// Package risk classifies students into Ok, Warning or Critical from two
// signals: attendance percentage and average score percentage.
//
// Rules are evaluated in order and the first match wins:
//
//	Critical  attendance < CriticalAttendance AND score < CriticalScore
//	Warning   attendance < WarningAttendance  OR  score < WarningScore
//	Ok        otherwise
//
// A nil signal never satisfies a comparison, so a student with no exam
// history can not reach Critical through attendance alone.
package risk

import (
	"fmt"
	"math"

	"github.com/markbook/markbook/pkg/types"
)

// Thresholds are the cut-offs, in percent, used by Classify.
type Thresholds struct {
	CriticalAttendance float64 `json:"critical_attendance" yaml:"critical_attendance"`
	CriticalScore      float64 `json:"critical_score" yaml:"critical_score"`
	WarningAttendance  float64 `json:"warning_attendance" yaml:"warning_attendance"`
	WarningScore       float64 `json:"warning_score" yaml:"warning_score"`
}

// Default returns the stock thresholds: critical below 60% attendance and
// 40% score, warning below 75% attendance or 50% score.
func Default() Thresholds {
	return Thresholds{
		CriticalAttendance: 60,
		CriticalScore:      40,
		WarningAttendance:  75,
		WarningScore:       50,
	}
}

// Validate checks that every threshold lies in [0, 100] and that no critical
// threshold exceeds its warning counterpart.
func (t Thresholds) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"critical_attendance", t.CriticalAttendance},
		{"critical_score", t.CriticalScore},
		{"warning_attendance", t.WarningAttendance},
		{"warning_score", t.WarningScore},
	} {
		if math.IsNaN(f.v) || f.v < 0 || f.v > 100 {
			return types.Invalid("Thresholds", f.name, f.v, "must be within [0, 100]")
		}
	}
	if t.CriticalAttendance > t.WarningAttendance {
		return types.Invalid("Thresholds", "critical_attendance", t.CriticalAttendance,
			fmt.Sprintf("must not exceed warning_attendance %v", t.WarningAttendance))
	}
	if t.CriticalScore > t.WarningScore {
		return types.Invalid("Thresholds", "critical_score", t.CriticalScore,
			fmt.Sprintf("must not exceed warning_score %v", t.WarningScore))
	}
	return nil
}

// Classify applies t to the two signals.
func (t Thresholds) Classify(attendancePct, avgScorePct *float64) types.RiskLevel {
	if below(attendancePct, t.CriticalAttendance) && below(avgScorePct, t.CriticalScore) {
		return types.RiskCritical
	}
	if below(attendancePct, t.WarningAttendance) || below(avgScorePct, t.WarningScore) {
		return types.RiskWarning
	}
	return types.RiskOk
}

// Assess classifies one student with t.
func (t Thresholds) Assess(studentID string, attendancePct, avgScorePct *float64) types.RiskAssessment {
	return types.RiskAssessment{
		StudentID:              studentID,
		AttendancePercentage:   attendancePct,
		AverageScorePercentage: avgScorePct,
		RiskLevel:              t.Classify(attendancePct, avgScorePct),
	}
}

// Classify applies the default thresholds.
func Classify(attendancePct, avgScorePct *float64) types.RiskLevel {
	return Default().Classify(attendancePct, avgScorePct)
}

// Assess classifies one student with the default thresholds.
func Assess(studentID string, attendancePct, avgScorePct *float64) types.RiskAssessment {
	return Default().Assess(studentID, attendancePct, avgScorePct)
}

func below(v *float64, limit float64) bool {
	return v != nil && *v < limit
}
