package srs

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mschirtzinger/recite/internal/state"
)

// Params holds the scheduler tuning knobs. Zero values are invalid; use
// DefaultParams and override from a TOML file via LoadParams.
type Params struct {
	// EaseFloor is the minimum ease factor. Ease never drops below it.
	EaseFloor float64 `toml:"ease_floor"`

	// MasteryReps is the number of consecutive strong reps that marks a
	// unit mastered.
	MasteryReps int `toml:"mastery_reps"`

	// StrongScore is the inclusive lower bound of the strong band.
	StrongScore float64 `toml:"strong_score"`

	// ShakyScore is the inclusive lower bound of the shaky band. Scores
	// below it count as failures.
	ShakyScore float64 `toml:"shaky_score"`

	// SuppressionWindow is how long a failed unit is hidden from review.
	SuppressionWindow time.Duration `toml:"suppression_window"`

	// FirstInterval and SecondInterval are the fixed intervals (in days)
	// for the first and second strong reps.
	FirstInterval  int `toml:"first_interval"`
	SecondInterval int `toml:"second_interval"`
}

// DefaultParams returns the standard tuning.
func DefaultParams() Params {
	return Params{
		EaseFloor:         state.MinEase,
		MasteryReps:       3,
		StrongScore:       0.9,
		ShakyScore:        0.75,
		SuppressionWindow: 24 * time.Hour,
		FirstInterval:     1,
		SecondInterval:    6,
	}
}

// Validate checks that the parameters describe a usable scheduler.
func (p Params) Validate() error {
	if p.EaseFloor < 1.0 {
		return fmt.Errorf("ease_floor %.2f must be at least 1.0", p.EaseFloor)
	}
	if p.MasteryReps < 1 {
		return fmt.Errorf("mastery_reps must be positive (got %d)", p.MasteryReps)
	}
	if p.StrongScore <= p.ShakyScore {
		return fmt.Errorf("strong_score %.2f must be above shaky_score %.2f", p.StrongScore, p.ShakyScore)
	}
	if p.ShakyScore <= 0 || p.StrongScore > 1 {
		return fmt.Errorf("score bands must lie inside (0, 1]")
	}
	if p.SuppressionWindow <= 0 {
		return fmt.Errorf("suppression_window must be positive")
	}
	if p.FirstInterval < 1 || p.SecondInterval < p.FirstInterval {
		return fmt.Errorf("intervals must satisfy 1 <= first <= second")
	}
	return nil
}

// paramsTOML is the on-disk form; the suppression window is a duration
// string like "24h".
type paramsTOML struct {
	EaseFloor         *float64 `toml:"ease_floor"`
	MasteryReps       *int     `toml:"mastery_reps"`
	StrongScore       *float64 `toml:"strong_score"`
	ShakyScore        *float64 `toml:"shaky_score"`
	SuppressionWindow *string  `toml:"suppression_window"`
	FirstInterval     *int     `toml:"first_interval"`
	SecondInterval    *int     `toml:"second_interval"`
}

// LoadParams reads tuning overrides from a TOML file. A missing file is
// not an error: defaults are returned. Fields absent from the file keep
// their defaults; present fields are validated together.
func LoadParams(path string) (Params, error) {
	p := DefaultParams()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return p, fmt.Errorf("failed to read params file %s: %w", path, err)
	}

	var raw paramsTOML
	if err := toml.Unmarshal(data, &raw); err != nil {
		return p, fmt.Errorf("failed to parse params file %s: %w", path, err)
	}

	if raw.EaseFloor != nil {
		p.EaseFloor = *raw.EaseFloor
	}
	if raw.MasteryReps != nil {
		p.MasteryReps = *raw.MasteryReps
	}
	if raw.StrongScore != nil {
		p.StrongScore = *raw.StrongScore
	}
	if raw.ShakyScore != nil {
		p.ShakyScore = *raw.ShakyScore
	}
	if raw.SuppressionWindow != nil {
		d, err := time.ParseDuration(*raw.SuppressionWindow)
		if err != nil {
			return p, fmt.Errorf("invalid suppression_window %q: %w", *raw.SuppressionWindow, err)
		}
		p.SuppressionWindow = d
	}
	if raw.FirstInterval != nil {
		p.FirstInterval = *raw.FirstInterval
	}
	if raw.SecondInterval != nil {
		p.SecondInterval = *raw.SecondInterval
	}

	if err := p.Validate(); err != nil {
		return DefaultParams(), fmt.Errorf("invalid params in %s: %w", path, err)
	}
	return p, nil
}
