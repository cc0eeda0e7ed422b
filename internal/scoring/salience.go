package scoring

import (
	"math"
	"time"

	"github.com/rcliao/persona-state/internal/model"
)

// Params tunes scoring. Zero values are replaced by DefaultParams.
type Params struct {
	// ActivationSaturation is the activation count that maps to a full
	// activation term.
	ActivationSaturation float64
	HalfLifeDays         float64
	HotThreshold         float64
	WarmThreshold        float64
	InterferenceRate     float64
}

// DefaultParams returns the standard scoring parameters.
func DefaultParams() Params {
	return Params{
		ActivationSaturation: 50,
		HalfLifeDays:         30,
		HotThreshold:         0.75,
		WarmThreshold:        0.4,
		InterferenceRate:     0.5,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.ActivationSaturation <= 0 {
		p.ActivationSaturation = d.ActivationSaturation
	}
	if p.HalfLifeDays <= 0 {
		p.HalfLifeDays = d.HalfLifeDays
	}
	if p.HotThreshold <= 0 {
		p.HotThreshold = d.HotThreshold
	}
	if p.WarmThreshold <= 0 {
		p.WarmThreshold = d.WarmThreshold
	}
	if p.InterferenceRate <= 0 {
		p.InterferenceRate = d.InterferenceRate
	}
	return p
}

// ActivationFrequency normalizes an activation count to [0,1] on a log scale.
func ActivationFrequency(count int, saturation float64) float64 {
	if count <= 0 {
		return 0
	}
	if saturation <= 0 {
		return 1
	}
	return clamp01(math.Log1p(float64(count)) / math.Log1p(saturation))
}

// ScoreMemory combines the four salience terms under w and clamps to [0,1].
func ScoreMemory(rec model.MemoryRecord, w model.WeightVector, p Params) float64 {
	p = p.withDefaults()
	score := w.Activation*ActivationFrequency(rec.ActivationCount, p.ActivationSaturation) +
		w.Emotion*clamp01(rec.EmotionScore) +
		w.Narrative*clamp01(rec.NarrativeScore) +
		w.Relational*clamp01(rec.RelationalScore)
	return clamp01(score)
}

// DecayedScore is ScoreMemory scaled by the decay since the last activation.
func DecayedScore(rec model.MemoryRecord, w model.WeightVector, p Params, now time.Time) float64 {
	p = p.withDefaults()
	return ScoreMemory(rec, w, p) * DecayMultiplier(AgeDays(rec.LastActivatedAt, now), p.HalfLifeDays)
}

// InterferencePenalty scales score down by similarity to competing memories
// and by their number. The factor is in (0,1] and decreases in both inputs.
func InterferencePenalty(score, similarity float64, competitors int, rate float64) float64 {
	if competitors <= 0 || rate <= 0 {
		return score
	}
	factor := math.Exp(-rate * clamp01(similarity) * math.Log1p(float64(competitors)))
	return score * factor
}

// ClassifyMemoryState maps score to hot, warm or cold. The scar and archived
// overrides on rec are kept as they are.
func ClassifyMemoryState(rec model.MemoryRecord, score float64, p Params) string {
	if model.IsOverride(rec.State) {
		return rec.State
	}
	p = p.withDefaults()
	switch {
	case score >= p.HotThreshold:
		return model.StateHot
	case score >= p.WarmThreshold:
		return model.StateWarm
	default:
		return model.StateCold
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
