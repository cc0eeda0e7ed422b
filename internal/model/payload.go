package model

import (
	"encoding/json"
	"fmt"
)

// Event types known to the payload registry. Other types are stored as-is.
const (
	TypeUserMessage      = "user_message"
	TypeAssistantMessage = "assistant_message"
	TypeScar             = "scar"
	TypeMemoryObserved   = "memory_observed"
	TypeMemoryActivated  = "memory_activated"
	TypeMemoryState      = "memory_state"
	TypeMemoryArchived   = "memory_archived"
	TypeWeightsAdapted   = "weights_adapted"
	TypeJudgmentRecorded = "judgment_recorded"
)

// ScarAction is the remediation recorded by every scar event.
const ScarAction = "record_scar_event_and_raise_risk_signal"

// Payload is implemented by every registered payload variant.
type Payload interface {
	// Problems returns schema violations; empty means valid.
	Problems() []string
}

// MessagePayload is the payload of user_message and assistant_message.
type MessagePayload struct {
	Text string `json:"text"`
}

func (p *MessagePayload) Problems() []string {
	return nil
}

// ScarPayload documents a detected chain break.
type ScarPayload struct {
	Detector       string `json:"detector"`
	BreakReason    string `json:"breakReason"`
	BrokenAtIndex  int    `json:"brokenAtIndex"`
	BreakSignature string `json:"breakSignature"`
	Action         string `json:"action"`
}

func (p *ScarPayload) Problems() []string {
	var out []string
	if p.Detector == "" {
		out = append(out, "detector is required")
	}
	if p.BreakReason == "" {
		out = append(out, "breakReason is required")
	}
	if p.BrokenAtIndex < 0 {
		out = append(out, "brokenAtIndex must be >= 0")
	}
	return out
}

// MemoryObservedPayload creates a memory record.
type MemoryObservedPayload struct {
	ID              string  `json:"id"`
	Tier            string  `json:"tier"`
	StorageCost     float64 `json:"storageCost"`
	RetrievalCost   float64 `json:"retrievalCost"`
	Source          string  `json:"source,omitempty"`
	EmotionScore    float64 `json:"emotionScore"`
	NarrativeScore  float64 `json:"narrativeScore"`
	RelationalScore float64 `json:"relationalScore"`
}

func (p *MemoryObservedPayload) Problems() []string {
	var out []string
	if p.ID == "" {
		out = append(out, "id is required")
	}
	if !ValidTiers[p.Tier] {
		out = append(out, fmt.Sprintf("unknown tier %q", p.Tier))
	}
	out = append(out, unitRange("emotionScore", p.EmotionScore)...)
	out = append(out, unitRange("narrativeScore", p.NarrativeScore)...)
	out = append(out, unitRange("relationalScore", p.RelationalScore)...)
	if p.StorageCost < 0 || p.RetrievalCost < 0 {
		out = append(out, "costs must be >= 0")
	}
	return out
}

// MemoryRefPayload names a memory; used by memory_activated.
type MemoryRefPayload struct {
	ID string `json:"id"`
}

func (p *MemoryRefPayload) Problems() []string {
	if p.ID == "" {
		return []string{"id is required"}
	}
	return nil
}

// MemoryStatePayload sets an explicit state override.
type MemoryStatePayload struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func (p *MemoryStatePayload) Problems() []string {
	var out []string
	if p.ID == "" {
		out = append(out, "id is required")
	}
	if !ValidStates[p.State] {
		out = append(out, fmt.Sprintf("unknown state %q", p.State))
	}
	return out
}

// MemoryArchivedPayload records that the forgetting policy archived a memory.
type MemoryArchivedPayload struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

func (p *MemoryArchivedPayload) Problems() []string {
	var out []string
	if p.ID == "" {
		out = append(out, "id is required")
	}
	return append(out, unitRange("score", p.Score)...)
}

// WeightsPayload records the weight vector after an adaptation.
type WeightsPayload WeightVector

func (p *WeightsPayload) Problems() []string {
	w := WeightVector(*p)
	var out []string
	names := [4]string{"activation", "emotion", "narrative", "relational"}
	for i, v := range w.Slice() {
		if v < MinWeight-1e-9 || v > MaxWeight+1e-9 {
			out = append(out, fmt.Sprintf("%s weight %.4f outside [%.1f, %.1f]", names[i], v, MinWeight, MaxWeight))
		}
	}
	if s := w.Sum(); s < 1-1e-6 || s > 1+1e-6 {
		out = append(out, fmt.Sprintf("weights sum to %.6f, want 1", s))
	}
	return out
}

// JudgmentRecordedPayload mirrors a judgment upsert into the log.
type JudgmentRecordedPayload struct {
	SubjectRef string `json:"subjectRef"`
	Label      string `json:"label"`
	Version    int    `json:"version"`
}

func (p *JudgmentRecordedPayload) Problems() []string {
	var out []string
	if p.SubjectRef == "" {
		out = append(out, "subjectRef is required")
	}
	if p.Version < 1 {
		out = append(out, "version must be >= 1")
	}
	return out
}

var registry = map[string]func() Payload{
	TypeUserMessage:      func() Payload { return &MessagePayload{} },
	TypeAssistantMessage: func() Payload { return &MessagePayload{} },
	TypeScar:             func() Payload { return &ScarPayload{} },
	TypeMemoryObserved:   func() Payload { return &MemoryObservedPayload{} },
	TypeMemoryActivated:  func() Payload { return &MemoryRefPayload{} },
	TypeMemoryState:      func() Payload { return &MemoryStatePayload{} },
	TypeMemoryArchived:   func() Payload { return &MemoryArchivedPayload{} },
	TypeWeightsAdapted:   func() Payload { return &WeightsPayload{} },
	TypeJudgmentRecorded: func() Payload { return &JudgmentRecordedPayload{} },
}

// Known reports whether typ has a registered payload schema.
func Known(typ string) bool {
	_, ok := registry[typ]
	return ok
}

// DecodePayload decodes e.Payload into its registered variant. Unknown types
// return (nil, nil).
func DecodePayload(e Event) (Payload, error) {
	mk, ok := registry[e.Type]
	if !ok {
		return nil, nil
	}
	p := mk()
	if err := json.Unmarshal(e.Payload, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return p, nil
}

func unitRange(name string, v float64) []string {
	if v < 0 || v > 1 {
		return []string{fmt.Sprintf("%s %.4f outside [0, 1]", name, v)}
	}
	return nil
}
