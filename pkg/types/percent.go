package types

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Decimal places used by the rounding policy.
const (
	// ScorePlaces applies to exam percentages and score averages.
	ScorePlaces int32 = 2

	// AttendancePlaces applies to attendance percentages.
	AttendancePlaces int32 = 1
)

var hundred = decimal.NewFromInt(100)

// Percent returns part/whole*100 rounded half away from zero to places.
//
// A zero whole returns nil: a percentage with no denominator is undefined, not
// zero. Non-finite inputs also return nil.
func Percent(part, whole float64, places int32) *float64 {
	if whole == 0 {
		return nil
	}
	if !finite(part) || !finite(whole) {
		return nil
	}
	d := decimal.NewFromFloat(part).Mul(hundred).Div(decimal.NewFromFloat(whole))
	f, _ := d.Round(places).Float64()
	return &f
}

// Round rounds v half away from zero to places. Non-finite values pass
// through unchanged.
func Round(v float64, places int32) float64 {
	if !finite(v) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// Mean returns the rounded arithmetic mean of vals, or nil for no values.
func Mean(vals []float64, places int32) *float64 {
	if len(vals) == 0 {
		return nil
	}
	sum := decimal.Zero
	for _, v := range vals {
		if !finite(v) {
			return nil
		}
		sum = sum.Add(decimal.NewFromFloat(v))
	}
	f, _ := sum.Div(decimal.NewFromInt(int64(len(vals)))).Round(places).Float64()
	return &f
}

// FormatPercent renders p with places decimals and a percent sign, or "n/a"
// when p is nil. Notification text uses it so alerts print the same figure
// the reports do.
func FormatPercent(p *float64, places int32) string {
	if p == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*p, 'f', int(places), 64) + "%"
}

// FormatMarks renders "obtained/max", e.g. "42/50" or "42.5/50".
// An absentee renders as "absent/50".
func FormatMarks(obtained *float64, maxMarks float64) string {
	o := "absent"
	if obtained != nil {
		o = strconv.FormatFloat(*obtained, 'f', -1, 64)
	}
	return o + "/" + strconv.FormatFloat(maxMarks, 'f', -1, 64)
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
