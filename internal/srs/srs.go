// Package srs implements the spaced-repetition scheduler.
//
// The single entry point is Advance: given the current review state for a
// unit and a recall-quality score in [0,1], it returns the next review
// state. Advance is a pure, total function: it performs no I/O, never
// fails, does not mutate its input, and takes the current time as an
// argument rather than reading a clock.
//
// Three score bands drive the update. A strong recall (score at or above
// the strong threshold) grows the interval and, after enough consecutive
// reps, marks the unit mastered. A shaky recall halves the interval and
// drops ease. A failed recall resets progress, records a lapse, clears
// mastery, and suppresses the unit for a cooldown window.
package srs

import (
	"math"
	"time"

	"github.com/mschirtzinger/recite/internal/state"
)

// Advance applies the default tuning to the given review state and score.
// Callers must clamp score into [0,1] before calling.
func Advance(st state.ReviewState, score float64, now time.Time) state.ReviewState {
	return AdvanceWith(DefaultParams(), st, score, now)
}

// AdvanceWith is Advance with explicit tuning parameters.
func AdvanceWith(p Params, st state.ReviewState, score float64, now time.Time) state.ReviewState {
	next := st

	switch {
	case score >= p.StrongScore:
		switch next.Reps {
		case 0:
			next.IntervalDays = p.FirstInterval
		case 1:
			next.IntervalDays = p.SecondInterval
		default:
			next.IntervalDays = int(math.Round(float64(next.IntervalDays) * next.Ease))
		}
		next.Reps++
		// SM-2 ease adjustment: a perfect score gains the full bonus,
		// anything below chips away at it quadratically.
		miss := 1 - score
		next.Ease = math.Max(p.EaseFloor, next.Ease+(0.1-miss*(0.1+miss*0.1)))
		next.SuppressedUntil = nil
		if next.Reps >= p.MasteryReps {
			next.Mastered = true
		}

	case score >= p.ShakyScore:
		next.IntervalDays = maxInt(1, int(math.Round(float64(next.IntervalDays)*0.5)))
		next.Ease = math.Max(p.EaseFloor, next.Ease-0.2)
		next.SuppressedUntil = nil

	default:
		next.Reps = 0
		next.IntervalDays = 0
		next.Lapses++
		next.Ease = math.Max(p.EaseFloor, next.Ease-0.5)
		until := now.Add(p.SuppressionWindow)
		next.SuppressedUntil = &until
		next.Mastered = false
	}

	s := score
	next.LastScore = &s
	next.NextDueAt = now.AddDate(0, 0, next.IntervalDays)
	return next
}

// Due reports whether the unit is due for review at the given time.
// A suppressed unit is never due until its suppression window passes.
func Due(st *state.ReviewState, now time.Time) bool {
	if Suppressed(st, now) {
		return false
	}
	return !st.NextDueAt.After(now)
}

// Suppressed reports whether the unit is inside a post-failure cooldown.
func Suppressed(st *state.ReviewState, now time.Time) bool {
	return st.SuppressedUntil != nil && st.SuppressedUntil.After(now)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
