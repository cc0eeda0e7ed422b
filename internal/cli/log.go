package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/persona-state/internal/eventlog"
	"github.com/rcliao/persona-state/internal/model"
)

func init() {
	appendCmd := &cobra.Command{
		Use:   "append [payload-json]",
		Short: "Append an event to the life log",
		Long:  "Append an event. The JSON payload can be a positional arg or piped via stdin.",
		Run:   runAppend,
	}
	appendCmd.Flags().StringP("type", "t", "", "Event type (required)")
	appendCmd.MarkFlagRequired("type")

	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Print the events of the life log",
		Run:   runEvents,
	}
	eventsCmd.Flags().Bool("lenient", false, "Skip malformed lines instead of failing")
	eventsCmd.Flags().IntP("limit", "l", 0, "Only print the last N events")

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain without modifying it",
		Run:   runVerify,
	}

	scarCmd := &cobra.Command{
		Use:   "scar",
		Short: "Verify the chain and record one scar event per break",
		Run:   runScar,
	}
	scarCmd.Flags().String("detector", "cli", "Detector name recorded in the scar")

	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the chain and every event payload",
		Run:   runDoctor,
	}

	RootCmd.AddCommand(appendCmd, eventsCmd, verifyCmd, scarCmd, doctorCmd)
}

func runAppend(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	payload := strings.TrimSpace(readInput(args))
	if payload == "" {
		exitErr("append", fmt.Errorf("payload is required (positional arg or stdin)"))
	}

	pkg, _ := openPackage()
	ev, err := eventlog.Append(cmd.Context(), pkg, model.EventInput{
		Type:    typ,
		Payload: json.RawMessage(payload),
	})
	if err != nil {
		exitErr("append", err)
	}
	printJSON(ev)
}

func runEvents(cmd *cobra.Command, args []string) {
	lenient, _ := cmd.Flags().GetBool("lenient")
	limit, _ := cmd.Flags().GetInt("limit")

	pkg, _ := openPackage()
	var events []model.Event
	var err error
	if lenient {
		var skipped int
		events, skipped, err = eventlog.ReadLenient(cmd.Context(), pkg)
		if skipped > 0 {
			pkg.Logger().Warn().Int("skipped", skipped).Msg("malformed lines skipped")
		}
	} else {
		events, err = eventlog.Read(cmd.Context(), pkg)
	}
	if err != nil {
		exitErr("read events", err)
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}

	if textFormat() {
		for _, ev := range events {
			fmt.Printf("%s  %-18s %s\n", ev.TS, ev.Type, ev.Payload)
		}
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	printJSON(events)
}

func runVerify(cmd *cobra.Command, args []string) {
	pkg, _ := openPackage()
	res, err := eventlog.Verify(cmd.Context(), pkg)
	if err != nil {
		exitErr("verify", err)
	}
	printJSON(res)
	if !res.OK {
		exitCode(2)
	}
}

func runScar(cmd *cobra.Command, args []string) {
	detector, _ := cmd.Flags().GetString("detector")
	pkg, _ := openPackage()
	res, err := eventlog.EnsureScar(cmd.Context(), pkg, detector)
	if err != nil {
		exitErr("scar", err)
	}
	printJSON(res)
}

func runDoctor(cmd *cobra.Command, args []string) {
	pkg, _ := openPackage()
	report, err := eventlog.Doctor(cmd.Context(), pkg)
	if err != nil {
		exitErr("doctor", err)
	}
	printJSON(report)
	if !report.OK {
		exitCode(2)
	}
}
