// Package scoring computes memory salience, decay, forgetting and the
// adaptive weight vector. Everything here is pure: no I/O, no clocks.
package scoring

import (
	"math"
	"math/rand"
	"time"

	"github.com/rcliao/persona-state/internal/model"
)

// DecayMultiplier returns 2^(-ageDays/halfLifeDays). It is 1 at age 0 and
// strictly decreasing in age. Negative ages count as 0; a non-positive
// half-life decays everything older than 0 to nothing.
func DecayMultiplier(ageDays, halfLifeDays float64) float64 {
	if ageDays <= 0 || math.IsNaN(ageDays) {
		return 1
	}
	if halfLifeDays <= 0 {
		return 0
	}
	return math.Exp2(-ageDays / halfLifeDays)
}

// AgeDays returns the fractional days between from and now, never negative.
func AgeDays(from, now time.Time) float64 {
	if from.IsZero() || now.Before(from) {
		return 0
	}
	return now.Sub(from).Hours() / 24
}

// ForgettingPolicy decides when a memory becomes an archive candidate.
type ForgettingPolicy struct {
	HalfLifeDays     float64
	ArchiveThreshold float64
	// Stickiness is the chance a low-score memory is kept anyway.
	Stickiness float64
}

// IsArchiveCandidate reports whether a memory with the given decayed score
// should be archived. roll is a uniform sample in [0,1); the memory survives
// when roll < Stickiness.
func (p ForgettingPolicy) IsArchiveCandidate(decayedScore, roll float64) bool {
	if decayedScore >= p.ArchiveThreshold {
		return false
	}
	return roll >= p.Stickiness
}

// Roll is IsArchiveCandidate with a sample drawn from rng.
func (p ForgettingPolicy) Roll(decayedScore float64, rng *rand.Rand) bool {
	return p.IsArchiveCandidate(decayedScore, rng.Float64())
}

// CompressionPolicy selects rarely touched, low-salience, idle memories for
// summarization. Compression itself happens elsewhere.
type CompressionPolicy struct {
	Threshold          float64
	MinIdleDays        float64
	MaxActivationCount int
}

// ShouldCompress reports whether all three compression conditions hold.
func (p CompressionPolicy) ShouldCompress(decayedScore, idleDays float64, activationCount int) bool {
	return decayedScore < p.Threshold &&
		idleDays >= p.MinIdleDays &&
		activationCount <= p.MaxActivationCount
}

// UpdateActivation records one activation of rec at the given time.
func UpdateActivation(rec *model.MemoryRecord, at time.Time) {
	rec.ActivationCount++
	if at.After(rec.LastActivatedAt) {
		rec.LastActivatedAt = at
	}
}
