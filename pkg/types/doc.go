// Package types defines the value types shared by the markbook engine, the
// worker and the server: grade bands, exam result rows, attendance events and
// summaries, and risk assessments.
//
// It also owns the two policies every consumer must agree on:
//
//   - InputError / ErrInvalidInput: the single invalid-input condition raised
//     by the engine (negative marks, negative max marks, unknown status).
//   - Percent / FormatPercent: the rounding policy. Exam percentages round to
//     ScorePlaces, attendance percentages to AttendancePlaces. A zero
//     denominator yields nil, never a fault.
//
// All types are plain values; nothing here holds state between calls.
package types
