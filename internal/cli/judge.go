package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/persona-state/internal/eventlog"
	"github.com/rcliao/persona-state/internal/model"
	"github.com/rcliao/persona-state/internal/store"
)

func init() {
	judgeCmd := &cobra.Command{
		Use:   "judge",
		Short: "Record and inspect versioned judgments",
	}

	putCmd := &cobra.Command{
		Use:   "put <subject> <label>",
		Short: "Record a new active judgment for a subject",
		Args:  cobra.ExactArgs(2),
		Run:   runJudgePut,
	}
	putCmd.Flags().Float64P("confidence", "c", 0.5, "Confidence in [0,1]")
	putCmd.Flags().StringP("rationale", "r", "", "Why the judgment was made")
	putCmd.Flags().StringP("evidence", "e", "", "Comma-separated evidence refs")

	getCmd := &cobra.Command{
		Use:   "get <subject>",
		Short: "Print the active judgment for a subject",
		Args:  cobra.ExactArgs(1),
		Run:   runJudgeGet,
	}

	historyCmd := &cobra.Command{
		Use:   "history <subject>",
		Short: "Print every version for a subject, newest first",
		Args:  cobra.ExactArgs(1),
		Run:   runJudgeHistory,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List active judgments",
		Run:   runJudgeList,
	}
	listCmd.Flags().String("label", "", "Filter by label")
	listCmd.Flags().IntP("limit", "l", 20, "Max results")

	queryCmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a read-only SQL statement against the judgment table",
		Args:  cobra.MinimumNArgs(1),
		Run:   runJudgeQuery,
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export every judgment version as JSON",
		Run:   runJudgeExport,
	}
	exportCmd.Flags().String("subject", "", "Only export one subject")

	judgeCmd.AddCommand(putCmd, getCmd, historyCmd, listCmd, queryCmd, exportCmd)
	RootCmd.AddCommand(judgeCmd)
}

func runJudgePut(cmd *cobra.Command, args []string) {
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	rationale, _ := cmd.Flags().GetString("rationale")
	evidence, _ := cmd.Flags().GetString("evidence")

	pkg, _ := openPackage()
	s := openStore(pkg)
	defer s.Close()

	j, err := s.UpsertJudgment(cmd.Context(), store.JudgmentParams{
		SubjectRef:   args[0],
		Label:        args[1],
		Confidence:   confidence,
		Rationale:    rationale,
		EvidenceRefs: splitList(evidence),
	})
	if err != nil {
		exitErr("record judgment", err)
	}

	in, err := model.NewEventInput(model.TypeJudgmentRecorded, model.JudgmentRecordedPayload{
		SubjectRef: j.SubjectRef,
		Label:      j.Label,
		Version:    j.Version,
	})
	if err != nil {
		exitErr("record judgment", err)
	}
	if _, err := eventlog.Append(cmd.Context(), pkg, in); err != nil {
		exitErr("log judgment", err)
	}
	printJSON(j)
}

func runJudgeGet(cmd *cobra.Command, args []string) {
	pkg, _ := openPackage()
	s := openStore(pkg)
	defer s.Close()

	j, err := s.GetActiveJudgment(cmd.Context(), args[0])
	if err != nil {
		exitErr("get judgment", err)
	}
	if j == nil {
		exitErr("get judgment", fmt.Errorf("no active judgment for %q", args[0]))
	}
	printJSON(j)
}

func runJudgeHistory(cmd *cobra.Command, args []string) {
	pkg, _ := openPackage()
	s := openStore(pkg)
	defer s.Close()

	hist, err := s.History(cmd.Context(), args[0])
	if err != nil {
		exitErr("judgment history", err)
	}
	printJudgments(hist)
}

func runJudgeList(cmd *cobra.Command, args []string) {
	label, _ := cmd.Flags().GetString("label")
	limit, _ := cmd.Flags().GetInt("limit")

	pkg, _ := openPackage()
	s := openStore(pkg)
	defer s.Close()

	list, err := s.ListActive(cmd.Context(), store.ListParams{Label: label, Limit: limit})
	if err != nil {
		exitErr("list judgments", err)
	}
	printJudgments(list)
}

func runJudgeQuery(cmd *cobra.Command, args []string) {
	pkg, _ := openPackage()
	s := openStore(pkg)
	defer s.Close()

	rows, err := s.Query(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		exitErr("query", err)
	}
	printJSON(rows)
}

func runJudgeExport(cmd *cobra.Command, args []string) {
	subject, _ := cmd.Flags().GetString("subject")

	pkg, _ := openPackage()
	s := openStore(pkg)
	defer s.Close()

	all, err := s.ExportAll(cmd.Context(), subject)
	if err != nil {
		exitErr("export", err)
	}
	// newline-delimited, one version per line
	for _, j := range all {
		b, _ := json.Marshal(j)
		fmt.Println(string(b))
	}
}

func printJudgments(list []model.Judgment) {
	if textFormat() {
		for _, j := range list {
			mark := " "
			if j.Active {
				mark = "*"
			}
			fmt.Printf("%s %s v%d  %s (%.2f)\n", mark, j.SubjectRef, j.Version, j.Label, j.Confidence)
		}
		return
	}
	if list == nil {
		list = []model.Judgment{}
	}
	printJSON(list)
}
