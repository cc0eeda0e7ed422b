// Package model defines the core persona state data types.
package model

import "time"

// MemoryRecord is the scored view of one memorable unit.
type MemoryRecord struct {
	ID              string    `json:"id"`
	Tier            string    `json:"tier"`
	StorageCost     float64   `json:"storage_cost"`
	RetrievalCost   float64   `json:"retrieval_cost"`
	Source          string    `json:"source,omitempty"`
	ActivationCount int       `json:"activation_count"`
	LastActivatedAt time.Time `json:"last_activated_at"`
	EmotionScore    float64   `json:"emotion_score"`
	NarrativeScore  float64   `json:"narrative_score"`
	RelationalScore float64   `json:"relational_score"`
	SalienceScore   float64   `json:"salience_score"`
	State           string    `json:"state"`
}

// Memory states. Hot, warm and cold come from score bands; scar and
// archived are explicit overrides.
const (
	StateHot      = "hot"
	StateWarm     = "warm"
	StateCold     = "cold"
	StateScar     = "scar"
	StateArchived = "archived"
)

// Memory tiers.
const (
	TierPattern   = "pattern"
	TierHighlight = "highlight"
	TierError     = "error"
	TierEpisode   = "episode"
	TierFact      = "fact"
)

// ValidTiers are the allowed memory tiers.
var ValidTiers = map[string]bool{
	TierPattern:   true,
	TierHighlight: true,
	TierError:     true,
	TierEpisode:   true,
	TierFact:      true,
}

// ValidStates are the allowed memory states.
var ValidStates = map[string]bool{
	StateHot:      true,
	StateWarm:     true,
	StateCold:     true,
	StateScar:     true,
	StateArchived: true,
}

// IsOverride reports whether state is set by events rather than score bands.
func IsOverride(state string) bool {
	return state == StateScar || state == StateArchived
}

// WeightVector weighs the four salience dimensions. Each component lies in
// [MinWeight, MaxWeight] and the components sum to 1.
type WeightVector struct {
	Activation float64 `json:"activation" yaml:"activation"`
	Emotion    float64 `json:"emotion" yaml:"emotion"`
	Narrative  float64 `json:"narrative" yaml:"narrative"`
	Relational float64 `json:"relational" yaml:"relational"`
}

// Weight bounds.
const (
	MinWeight = 0.1
	MaxWeight = 0.6
)

// DefaultWeights returns the starting weight vector for a new persona.
func DefaultWeights() WeightVector {
	return WeightVector{Activation: 0.3, Emotion: 0.25, Narrative: 0.25, Relational: 0.2}
}

// Sum returns the sum of all components.
func (w WeightVector) Sum() float64 {
	return w.Activation + w.Emotion + w.Narrative + w.Relational
}

// Slice returns the components in fixed order.
func (w WeightVector) Slice() [4]float64 {
	return [4]float64{w.Activation, w.Emotion, w.Narrative, w.Relational}
}

// WeightVectorFrom builds a vector from components in Slice order.
func WeightVectorFrom(v [4]float64) WeightVector {
	return WeightVector{Activation: v[0], Emotion: v[1], Narrative: v[2], Relational: v[3]}
}
