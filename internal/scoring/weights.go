package scoring

import (
	"math"

	"github.com/rcliao/persona-state/internal/model"
)

// WeightDeltas are additive adjustments to each weight component.
type WeightDeltas struct {
	ActivationDelta float64 `json:"activationDelta"`
	EmotionDelta    float64 `json:"emotionDelta"`
	NarrativeDelta  float64 `json:"narrativeDelta"`
	RelationalDelta float64 `json:"relationalDelta"`
}

// AdaptWeights applies deltas, clamps each component to
// [model.MinWeight, model.MaxWeight] and rescales proportionally so the
// components sum to 1. The scale factor c solves sum(clamp(c*w_i)) = 1,
// which keeps every component inside the bounds after normalization.
// NaN inputs count as 0.
func AdaptWeights(current model.WeightVector, d WeightDeltas) model.WeightVector {
	cur := current.Slice()
	deltas := [4]float64{d.ActivationDelta, d.EmotionDelta, d.NarrativeDelta, d.RelationalDelta}

	var v [4]float64
	for i := range v {
		v[i] = clampWeight(finite(cur[i]) + finite(deltas[i]))
	}
	return model.WeightVectorFrom(normalize(v))
}

func normalize(v [4]float64) [4]float64 {
	sum := func(c float64) float64 {
		s := 0.0
		for _, x := range v {
			s += clampWeight(c * x)
		}
		return s
	}

	// v[i] >= MinWeight > 0, so sum(0+) = 4*MinWeight < 1 and
	// sum(MaxWeight/MinWeight) = 4*MaxWeight > 1.
	lo, hi := 0.0, model.MaxWeight/model.MinWeight
	for i := 0; i < 200 && hi-lo > 1e-15; i++ {
		mid := (lo + hi) / 2
		if sum(mid) < 1 {
			lo = mid
		} else {
			hi = mid
		}
	}

	var out [4]float64
	total := 0.0
	for i, x := range v {
		out[i] = clampWeight(hi * x)
		total += out[i]
	}
	// Push the residual rounding error into a component with room for it.
	if r := 1 - total; r != 0 {
		for i := range out {
			if adj := out[i] + r; adj >= model.MinWeight && adj <= model.MaxWeight {
				out[i] = adj
				break
			}
		}
	}
	return out
}

func clampWeight(x float64) float64 {
	if math.IsNaN(x) {
		return model.MinWeight
	}
	return math.Min(model.MaxWeight, math.Max(model.MinWeight, x))
}

func finite(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return x
}
