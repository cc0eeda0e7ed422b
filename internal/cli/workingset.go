package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/persona-state/internal/snapshot"
)

func init() {
	wsCmd := &cobra.Command{
		Use:     "workingset",
		Aliases: []string{"ws"},
		Short:   "Read or replace the working set",
	}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Print the working set (corrupt files are quarantined and reset)",
		Run:   runWorkingSetGet,
	}

	putCmd := &cobra.Command{
		Use:   "put [json]",
		Short: "Replace the working set",
		Long:  `Replace the working set with {"items": [...]} or a bare JSON array, given as an arg or via stdin.`,
		Run:   runWorkingSetPut,
	}

	wsCmd.AddCommand(getCmd, putCmd)
	RootCmd.AddCommand(wsCmd)
}

func runWorkingSetGet(cmd *cobra.Command, args []string) {
	pkg, _ := openPackage()
	ws, err := snapshot.Read(cmd.Context(), pkg)
	if err != nil {
		exitErr("read working set", err)
	}
	printJSON(ws)
}

func runWorkingSetPut(cmd *cobra.Command, args []string) {
	input := strings.TrimSpace(readInput(args))
	if input == "" {
		exitErr("put working set", fmt.Errorf("document is required (positional arg or stdin)"))
	}

	var ws snapshot.WorkingSet
	if strings.HasPrefix(input, "[") {
		if err := json.Unmarshal([]byte(input), &ws.Items); err != nil {
			exitErr("parse working set", err)
		}
	} else if err := json.Unmarshal([]byte(input), &ws); err != nil {
		exitErr("parse working set", err)
	}
	if ws.Items == nil {
		ws = snapshot.Empty()
	}

	pkg, _ := openPackage()
	if err := snapshot.Write(cmd.Context(), pkg, ws); err != nil {
		exitErr("write working set", err)
	}
	printJSON(map[string]int{"items": len(ws.Items)})
}
