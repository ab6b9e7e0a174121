package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/markbook/markbook/pkg/types"
)

// condition is a parsed rule expression of the form "field op value".
//
// Supported expressions:
//
//	risk_level == critical
//	risk_level != ok
//	risk_level >= warning
//	attendance_pct < 60
//	avg_score_pct <= 40
type condition struct {
	field string
	op    string
	num   float64
	level types.RiskLevel
}

// parseCondition parses and checks a rule expression.
func parseCondition(s string) (condition, error) {
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"field op value\"", s)
	}
	c := condition{field: parts[0], op: parts[1]}
	switch c.op {
	case "<", "<=", ">", ">=", "==", "!=":
	default:
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", s, c.op)
	}

	switch c.field {
	case "risk_level":
		l, err := types.ParseRiskLevel(parts[2])
		if err != nil {
			return condition{}, fmt.Errorf("condition %q: %w", s, err)
		}
		c.level = l
	case "attendance_pct", "avg_score_pct":
		v, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return condition{}, fmt.Errorf("condition %q: value: %w", s, err)
		}
		c.num = v
	default:
		return condition{}, fmt.Errorf("condition %q: unknown field %q", s, c.field)
	}
	return c, nil
}

// eval tests the condition against one assessment and returns the signal it
// compared. A missing signal never fires.
func (c condition) eval(a types.RiskAssessment) (bool, *float64) {
	switch c.field {
	case "risk_level":
		return compare(float64(a.RiskLevel.Severity()), c.op, float64(c.level.Severity())), nil
	case "attendance_pct":
		if a.AttendancePercentage == nil {
			return false, nil
		}
		return compare(*a.AttendancePercentage, c.op, c.num), a.AttendancePercentage
	case "avg_score_pct":
		if a.AverageScorePercentage == nil {
			return false, nil
		}
		return compare(*a.AverageScorePercentage, c.op, c.num), a.AverageScorePercentage
	}
	return false, nil
}

// compare applies a comparison operator to two float64 values.
func compare(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
