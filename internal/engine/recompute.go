package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/rcliao/persona-state/internal/eventlog"
	"github.com/rcliao/persona-state/internal/model"
	"github.com/rcliao/persona-state/internal/persona"
	"github.com/rcliao/persona-state/internal/scoring"
	"github.com/rcliao/persona-state/internal/snapshot"
)

// Options tunes a recompute pass.
type Options struct {
	Params          scoring.Params
	Forgetting      scoring.ForgettingPolicy
	Compression     scoring.CompressionPolicy
	WorkingSetLimit int
	// CompetitionSimilarity is the feature similarity at which two memories
	// interfere with each other. 0 disables interference.
	CompetitionSimilarity float64
	// Rand supplies stickiness rolls. Nil uses a time-seeded source.
	Rand *rand.Rand
}

// Report summarizes a recompute pass.
type Report struct {
	Weights            model.WeightVector    `json:"weights"`
	Memories           []*model.MemoryRecord `json:"memories"`
	Archived           []string              `json:"archived"`
	CompressCandidates []string              `json:"compress_candidates"`
	WorkingSetItems    int                   `json:"working_set_items"`
	SkippedLines       int                   `json:"skipped_lines,omitempty"`
}

// ScoreRecords sets the salience score and state of every record: decayed
// salience, reduced by interference from similar memories, then classified.
// Competitors are measured against the records as replayed, before any of
// them is rescored.
func ScoreRecords(records []*model.MemoryRecord, w model.WeightVector, opts Options, now time.Time) {
	type competition struct {
		sim float64
		n   int
	}
	comp := make([]competition, len(records))
	if opts.CompetitionSimilarity > 0 {
		for i, rec := range records {
			comp[i].sim, comp[i].n = scoring.Competition(*rec, records, opts.CompetitionSimilarity)
		}
	}

	rate := opts.Params.InterferenceRate
	if rate == 0 {
		rate = scoring.DefaultParams().InterferenceRate
	}
	for i, rec := range records {
		score := scoring.DecayedScore(*rec, w, opts.Params, now)
		rec.SalienceScore = scoring.InterferencePenalty(score, comp[i].sim, comp[i].n, rate)
		rec.State = scoring.ClassifyMemoryState(*rec, rec.SalienceScore, opts.Params)
	}
}

// Recompute rescores every memory from the log, archives the ones the
// forgetting policy drops (by appending memory_archived events), lists
// compression candidates and rewrites the working set with the hot and warm
// memories, highest score first. The whole pass holds the package lock, so
// concurrent passes never archive a memory twice.
func Recompute(ctx context.Context, pkg *persona.Package, opts Options) (*Report, error) {
	held, err := pkg.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire package lock: %w", err)
	}
	defer held.Release()

	events, skipped, err := eventlog.ReadLenient(ctx, pkg)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	weights, err := LoadWeights(pkg)
	if err != nil {
		return nil, err
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(pkg.Now().UnixNano()))
	}

	now := pkg.Now()
	records := Replay(events)
	report := &Report{
		Weights:            weights,
		Memories:           records,
		Archived:           []string{},
		CompressCandidates: []string{},
		SkippedLines:       skipped,
	}

	ScoreRecords(records, weights, opts, now)
	for _, rec := range records {
		if model.IsOverride(rec.State) {
			continue
		}

		if opts.Forgetting.Roll(rec.SalienceScore, rng) {
			in, err := model.NewEventInput(model.TypeMemoryArchived, model.MemoryArchivedPayload{
				ID:    rec.ID,
				Score: rec.SalienceScore,
			})
			if err != nil {
				return nil, err
			}
			if _, err := eventlog.AppendHeld(held, in); err != nil {
				return nil, fmt.Errorf("archive %s: %w", rec.ID, err)
			}
			rec.State = model.StateArchived
			report.Archived = append(report.Archived, rec.ID)
			continue
		}

		idle := scoring.AgeDays(rec.LastActivatedAt, now)
		if opts.Compression.ShouldCompress(rec.SalienceScore, idle, rec.ActivationCount) {
			report.CompressCandidates = append(report.CompressCandidates, rec.ID)
		}
	}

	active := make([]*model.MemoryRecord, 0, len(records))
	for _, rec := range records {
		if rec.State == model.StateHot || rec.State == model.StateWarm {
			active = append(active, rec)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].SalienceScore > active[j].SalienceScore
	})
	if opts.WorkingSetLimit > 0 && len(active) > opts.WorkingSetLimit {
		active = active[:opts.WorkingSetLimit]
	}

	ws, err := snapshot.FromValues(active)
	if err != nil {
		return nil, err
	}
	if err := snapshot.Write(ctx, pkg, ws); err != nil {
		return nil, err
	}
	report.WorkingSetItems = len(ws.Items)

	pkg.Logger().Info().
		Int("memories", len(records)).
		Int("archived", len(report.Archived)).
		Int("compress_candidates", len(report.CompressCandidates)).
		Int("working_set", report.WorkingSetItems).
		Msg("memory state recomputed")
	return report, nil
}
