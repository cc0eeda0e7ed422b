package scoring

import (
	"math"

	"github.com/rcliao/persona-state/internal/model"
)

// Vector is a memory's feature vector: emotion, narrative and relational
// scores followed by a one-hot tier.
type Vector = []float64

var tierOrder = []string{model.TierPattern, model.TierHighlight, model.TierError, model.TierEpisode, model.TierFact}

// FeatureVector places rec in the space used to measure interference.
func FeatureVector(rec model.MemoryRecord) Vector {
	v := make(Vector, 3+len(tierOrder))
	v[0] = clamp01(rec.EmotionScore)
	v[1] = clamp01(rec.NarrativeScore)
	v[2] = clamp01(rec.RelationalScore)
	for i, t := range tierOrder {
		if rec.Tier == t {
			v[3+i] = 1
		}
	}
	return v
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Competition finds the memories in others that compete with rec: those, other
// than rec itself and archived ones, whose feature similarity is at least
// minSimilarity. It returns their mean similarity and count.
func Competition(rec model.MemoryRecord, others []*model.MemoryRecord, minSimilarity float64) (float64, int) {
	self := FeatureVector(rec)
	var sum float64
	n := 0
	for _, o := range others {
		if o.ID == rec.ID || o.State == model.StateArchived {
			continue
		}
		sim := CosineSimilarity(self, FeatureVector(*o))
		if sim >= minSimilarity {
			sum += sim
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
