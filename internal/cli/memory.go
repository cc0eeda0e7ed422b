package cli

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/rcliao/persona-state/internal/config"
	"github.com/rcliao/persona-state/internal/engine"
	"github.com/rcliao/persona-state/internal/eventlog"
	"github.com/rcliao/persona-state/internal/model"
	"github.com/rcliao/persona-state/internal/persona"
	"github.com/rcliao/persona-state/internal/scoring"
)

func init() {
	memoryCmd := &cobra.Command{
		Use:   "memory",
		Short: "Observe, activate and score memories",
	}

	observeCmd := &cobra.Command{
		Use:   "observe",
		Short: "Record a new or updated memory",
		Run:   runMemoryObserve,
	}
	observeCmd.Flags().String("id", "", "Memory id (default: new ULID)")
	observeCmd.Flags().String("tier", "episode", "Tier: pattern, highlight, error, episode, fact")
	observeCmd.Flags().String("source", "", "Where the memory came from")
	observeCmd.Flags().Float64("storage-cost", 0, "Storage cost")
	observeCmd.Flags().Float64("retrieval-cost", 0, "Retrieval cost")
	observeCmd.Flags().Float64("emotion", 0, "Emotion score in [0,1]")
	observeCmd.Flags().Float64("narrative", 0, "Narrative score in [0,1]")
	observeCmd.Flags().Float64("relational", 0, "Relational score in [0,1]")

	activateCmd := &cobra.Command{
		Use:   "activate <id>",
		Short: "Record an activation of a memory",
		Args:  cobra.ExactArgs(1),
		Run:   runMemoryActivate,
	}

	stateCmd := &cobra.Command{
		Use:   "state <id> <state>",
		Short: "Pin a memory to a state (scar or archived override the score)",
		Args:  cobra.ExactArgs(2),
		Run:   runMemoryState,
	}

	scoreCmd := &cobra.Command{
		Use:   "score",
		Short: "Score every memory the way recompute does, without writing anything",
		Run:   runMemoryScore,
	}
	scoreCmd.Flags().Float64("similarity", 0, "Similarity to competing memories in [0,1]")
	scoreCmd.Flags().Int("competitors", 0, "Number of competing memories")
	scoreCmd.Flags().Float64("min-similarity", 0, "Competitor similarity threshold (default: scoring.competition_similarity)")

	recomputeCmd := &cobra.Command{
		Use:   "recompute",
		Short: "Rescore memories, archive forgotten ones and rewrite the working set",
		Run:   runMemoryRecompute,
	}
	recomputeCmd.Flags().Int64("seed", 0, "Seed for stickiness rolls (0: time-seeded)")

	memoryCmd.AddCommand(observeCmd, activateCmd, stateCmd, scoreCmd, recomputeCmd)
	RootCmd.AddCommand(memoryCmd)
}

func appendValidated(cmd *cobra.Command, pkg *persona.Package, typ string, p model.Payload) model.Event {
	if problems := p.Problems(); len(problems) > 0 {
		exitErr(typ, fmt.Errorf("invalid payload: %v", problems))
	}
	in, err := model.NewEventInput(typ, p)
	if err != nil {
		exitErr(typ, err)
	}
	ev, err := eventlog.Append(cmd.Context(), pkg, in)
	if err != nil {
		exitErr(typ, err)
	}
	return ev
}

func runMemoryObserve(cmd *cobra.Command, args []string) {
	id, _ := cmd.Flags().GetString("id")
	tier, _ := cmd.Flags().GetString("tier")
	source, _ := cmd.Flags().GetString("source")
	storageCost, _ := cmd.Flags().GetFloat64("storage-cost")
	retrievalCost, _ := cmd.Flags().GetFloat64("retrieval-cost")
	emotion, _ := cmd.Flags().GetFloat64("emotion")
	narrative, _ := cmd.Flags().GetFloat64("narrative")
	relational, _ := cmd.Flags().GetFloat64("relational")

	pkg, _ := openPackage()
	if id == "" {
		id = ulid.MustNew(ulid.Timestamp(pkg.Now()), ulid.DefaultEntropy()).String()
	}

	printJSON(appendValidated(cmd, pkg, model.TypeMemoryObserved, &model.MemoryObservedPayload{
		ID:              id,
		Tier:            tier,
		StorageCost:     storageCost,
		RetrievalCost:   retrievalCost,
		Source:          source,
		EmotionScore:    emotion,
		NarrativeScore:  narrative,
		RelationalScore: relational,
	}))
}

func runMemoryActivate(cmd *cobra.Command, args []string) {
	pkg, _ := openPackage()
	printJSON(appendValidated(cmd, pkg, model.TypeMemoryActivated, &model.MemoryRefPayload{ID: args[0]}))
}

func runMemoryState(cmd *cobra.Command, args []string) {
	pkg, _ := openPackage()
	printJSON(appendValidated(cmd, pkg, model.TypeMemoryState, &model.MemoryStatePayload{ID: args[0], State: args[1]}))
}

type scoredMemory struct {
	ID              string  `json:"id"`
	Tier            string  `json:"tier"`
	ActivationCount int     `json:"activation_count"`
	Score           float64 `json:"score"`
	State           string  `json:"state"`
}

func runMemoryScore(cmd *cobra.Command, args []string) {
	similarity, _ := cmd.Flags().GetFloat64("similarity")
	competitors, _ := cmd.Flags().GetInt("competitors")
	minSimilarity, _ := cmd.Flags().GetFloat64("min-similarity")

	pkg, cfg := openPackage()
	events, _, err := eventlog.ReadLenient(cmd.Context(), pkg)
	if err != nil {
		exitErr("read events", err)
	}
	weights, err := engine.LoadWeights(pkg)
	if err != nil {
		exitErr("load weights", err)
	}

	opts := recomputeOptions(cfg)
	if minSimilarity > 0 {
		opts.CompetitionSimilarity = minSimilarity
	}
	records := engine.Replay(events)
	engine.ScoreRecords(records, weights, opts, pkg.Now())

	out := []scoredMemory{}
	for _, rec := range records {
		score, state := rec.SalienceScore, rec.State
		if competitors > 0 {
			// Explicit competition replaces the derived one.
			score = scoring.DecayedScore(*rec, weights, opts.Params, pkg.Now())
			score = scoring.InterferencePenalty(score, similarity, competitors, opts.Params.InterferenceRate)
			state = scoring.ClassifyMemoryState(*rec, score, opts.Params)
		}
		out = append(out, scoredMemory{
			ID:              rec.ID,
			Tier:            rec.Tier,
			ActivationCount: rec.ActivationCount,
			Score:           score,
			State:           state,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	if textFormat() {
		for _, m := range out {
			fmt.Printf("%-28s %-9s %-5s %.3f\n", m.ID, m.Tier, m.State, m.Score)
		}
		return
	}
	printJSON(out)
}

func recomputeOptions(cfg *config.Config) engine.Options {
	return engine.Options{
		Params:          cfg.ScoringParams(),
		Forgetting:      cfg.Forgetting(),
		Compression:     cfg.CompressionPolicy(),
		WorkingSetLimit: cfg.WorkingSet.Limit,

		CompetitionSimilarity: cfg.Scoring.CompetitionSimilarity,
	}
}

func runMemoryRecompute(cmd *cobra.Command, args []string) {
	seed, _ := cmd.Flags().GetInt64("seed")

	pkg, cfg := openPackage()
	opts := recomputeOptions(cfg)
	if seed != 0 {
		opts.Rand = rand.New(rand.NewSource(seed))
	}
	report, err := engine.Recompute(cmd.Context(), pkg, opts)
	if err != nil {
		exitErr("recompute", err)
	}
	printJSON(report)
}
