package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rcliao/persona-state/internal/eventlog"
	"github.com/rcliao/persona-state/internal/store"
)

func init() {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show package statistics",
		Run:   runStats,
	}

	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Copy the package's files into migration-backups/<timestamp>/",
		Run:   runBackup,
	}

	RootCmd.AddCommand(statsCmd, backupCmd)
}

type packageStats struct {
	Root         string       `json:"root"`
	LogSizeBytes int64        `json:"log_size_bytes"`
	Events       int          `json:"events"`
	ChainOK      bool         `json:"chain_ok"`
	LastEventAt  *time.Time   `json:"last_event_at,omitempty"`
	WeightsPath  string       `json:"weights_path"`
	Judgments    *store.Stats `json:"judgments"`
}

func runStats(cmd *cobra.Command, args []string) {
	pkg, _ := openPackage()
	s := openStore(pkg)
	defer s.Close()

	st := packageStats{Root: pkg.Root(), WeightsPath: pkg.WeightsPath()}
	if info, err := os.Stat(pkg.LogPath()); err == nil {
		st.LogSizeBytes = info.Size()
	}

	res, err := eventlog.Verify(cmd.Context(), pkg)
	if err != nil {
		exitErr("verify", err)
	}
	st.Events = res.Events
	st.ChainOK = res.OK

	events, _, err := eventlog.ReadLenient(cmd.Context(), pkg)
	if err != nil {
		exitErr("read events", err)
	}
	if n := len(events); n > 0 {
		t := events[n-1].Time()
		st.LastEventAt = &t
	}

	st.Judgments, err = s.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	if !textFormat() {
		printJSON(st)
		return
	}

	fmt.Printf("package:    %s\n", st.Root)
	fmt.Printf("life log:   %d events, %s, chain ok=%t\n", st.Events, humanize.Bytes(uint64(st.LogSizeBytes)), st.ChainOK)
	if st.LastEventAt != nil {
		fmt.Printf("last event: %s\n", humanize.Time(*st.LastEventAt))
	}
	fmt.Printf("judgments:  %s versions over %s subjects, %s\n",
		humanize.Comma(int64(st.Judgments.TotalJudgments)),
		humanize.Comma(int64(st.Judgments.Subjects)),
		humanize.Bytes(uint64(st.Judgments.DBSizeBytes)))
	for _, ls := range st.Judgments.ActiveByLabel {
		fmt.Printf("  %-20s %d\n", ls.Label, ls.Count)
	}
}

func runBackup(cmd *cobra.Command, args []string) {
	pkg, _ := openPackage()
	s := openStore(pkg)
	defer s.Close()

	res, err := s.Backup(cmd.Context())
	if err != nil {
		exitErr("backup", err)
	}
	printJSON(res)
}
