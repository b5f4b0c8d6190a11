package risk

import (
	"context"
	"time"
)

// Input is what a scorer gets to work with for one login attempt.
type Input struct {
	AccountID   string
	Fingerprint [32]byte
	Origin      string
	Now         time.Time
}

// Assessment is the scored outcome. Score is always within [0,100];
// the component scores are kept for audit metadata.
type Assessment struct {
	Fingerprint [32]byte
	KnownDevice bool
	Novelty     int
	OriginScore int
	Velocity    int
	Score       int
	Degraded    bool
}

// Scorer turns device history into a risk assessment. Implementations
// must be safe for concurrent use and must degrade rather than fail:
// returning an error aborts the login.
type Scorer interface {
	Assess(ctx context.Context, in Input) (Assessment, error)
}

// Weights tunes the component mix of the default scorer. The three
// weights must sum to 1.
type Weights struct {
	Novelty  float64
	Origin   float64
	Velocity float64
}

// Tuning bounds the raw component inputs before weighting.
type Tuning struct {
	// OriginFailureCeiling is the failure count at which the origin
	// component saturates at 100.
	OriginFailureCeiling int
	// VelocityCeiling is the distinct-device count at which the velocity
	// component saturates at 100.
	VelocityCeiling int
}

// WeightedScorer is the default [Scorer]: a weighted blend of device
// novelty, origin reputation, and device velocity. A history outage
// yields a conservative novel-device assessment with Degraded set
// instead of an error.
type WeightedScorer struct {
	history *History
	weights Weights
	tuning  Tuning
}

func NewWeightedScorer(history *History, weights Weights, tuning Tuning) *WeightedScorer {
	return &WeightedScorer{history: history, weights: weights, tuning: tuning}
}

func (s *WeightedScorer) Assess(ctx context.Context, in Input) (Assessment, error) {
	out := Assessment{Fingerprint: in.Fingerprint}

	lastSeen, known, err := s.history.LastSeen(ctx, in.AccountID, in.Fingerprint)
	if err != nil {
		return s.degraded(in), nil
	}
	out.KnownDevice = known
	out.Novelty = s.noveltyScore(lastSeen, known, in.Now)

	originFailures, err := s.history.OriginFailures(ctx, in.Origin)
	if err != nil {
		return s.degraded(in), nil
	}
	out.OriginScore = scaleToCeiling(originFailures, s.tuning.OriginFailureCeiling)

	distinct, err := s.history.DistinctDevices(ctx, in.AccountID, in.Now)
	if err != nil {
		return s.degraded(in), nil
	}
	// The current device counts toward velocity even before it is recorded.
	if !known {
		distinct++
	}
	out.Velocity = scaleToCeiling(distinct-1, s.tuning.VelocityCeiling)

	out.Score = clampScore(
		s.weights.Novelty*float64(out.Novelty) +
			s.weights.Origin*float64(out.OriginScore) +
			s.weights.Velocity*float64(out.Velocity))

	return out, nil
}

// noveltyScore is 100 for a never-seen device, 0 for one seen just now,
// linear in the age of the last sighting across the device window.
func (s *WeightedScorer) noveltyScore(lastSeen time.Time, known bool, now time.Time) int {
	if !known {
		return 100
	}
	window := s.history.deviceWindow
	if window <= 0 {
		return 0
	}
	age := now.Sub(lastSeen)
	if age <= 0 {
		return 0
	}
	if age >= window {
		return 100
	}
	return int(float64(age) / float64(window) * 100)
}

// degraded is the assessment used when history cannot be read: treat the
// device as novel so the MFA gate stays in front, and flag the outage.
func (s *WeightedScorer) degraded(in Input) Assessment {
	return Assessment{
		Fingerprint: in.Fingerprint,
		Novelty:     100,
		Score:       clampScore(s.weights.Novelty * 100),
		Degraded:    true,
	}
}

func scaleToCeiling(n, ceiling int) int {
	if n <= 0 || ceiling <= 0 {
		return 0
	}
	if n >= ceiling {
		return 100
	}
	return n * 100 / ceiling
}

func clampScore(f float64) int {
	n := int(f + 0.5)
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
