// Package engine derives memory state from the life log: it replays memory
// events into records, scores them, applies the forgetting policy and keeps
// the working set and weight file current.
package engine

import (
	"encoding/json"

	"github.com/rcliao/persona-state/internal/model"
	"github.com/rcliao/persona-state/internal/scoring"
)

// Replay folds memory events into records, in order of first observation.
// Events for unknown ids and undecodable payloads are skipped; validation is
// the doctor's job.
func Replay(events []model.Event) []*model.MemoryRecord {
	byID := make(map[string]*model.MemoryRecord)
	var order []*model.MemoryRecord

	for _, ev := range events {
		switch ev.Type {
		case model.TypeMemoryObserved:
			var p model.MemoryObservedPayload
			if json.Unmarshal(ev.Payload, &p) != nil || p.ID == "" {
				continue
			}
			rec, ok := byID[p.ID]
			if !ok {
				rec = &model.MemoryRecord{ID: p.ID, LastActivatedAt: ev.Time()}
				byID[p.ID] = rec
				order = append(order, rec)
			}
			rec.Tier = p.Tier
			rec.StorageCost = p.StorageCost
			rec.RetrievalCost = p.RetrievalCost
			rec.Source = p.Source
			rec.EmotionScore = p.EmotionScore
			rec.NarrativeScore = p.NarrativeScore
			rec.RelationalScore = p.RelationalScore

		case model.TypeMemoryActivated:
			var p model.MemoryRefPayload
			if json.Unmarshal(ev.Payload, &p) != nil {
				continue
			}
			if rec, ok := byID[p.ID]; ok {
				scoring.UpdateActivation(rec, ev.Time())
			}

		case model.TypeMemoryState:
			var p model.MemoryStatePayload
			if json.Unmarshal(ev.Payload, &p) != nil || !model.ValidStates[p.State] {
				continue
			}
			if rec, ok := byID[p.ID]; ok {
				rec.State = p.State
			}

		case model.TypeMemoryArchived:
			var p model.MemoryArchivedPayload
			if json.Unmarshal(ev.Payload, &p) != nil {
				continue
			}
			if rec, ok := byID[p.ID]; ok {
				rec.State = model.StateArchived
			}
		}
	}
	return order
}
