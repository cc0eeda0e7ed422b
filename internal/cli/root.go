// Package cli implements the persona-state CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/persona-state/internal/config"
	"github.com/rcliao/persona-state/internal/logging"
	"github.com/rcliao/persona-state/internal/persona"
	"github.com/rcliao/persona-state/internal/store"
)

var (
	packagePath string
	formatFlag  string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "persona-state",
	Short: "Tamper-evident persona state",
	Long: "Maintains a persona package: a hash-chained life log, a derived working set, " +
		"memory salience scores, adaptive weights and versioned judgments.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&packagePath, "package", "p", "", "Persona package directory (default: $PERSONA_PACKAGE or current directory)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func getPackagePath() string {
	if packagePath != "" {
		return packagePath
	}
	if env := os.Getenv("PERSONA_PACKAGE"); env != "" {
		return env
	}
	return "."
}

// openPackage resolves the package directory, loads its persona.yaml and
// attaches a logger configured from it.
func openPackage() (*persona.Package, *config.Config) {
	pkg, cfg, err := loadPackage(getPackagePath(), nil)
	if err != nil {
		exitErr("open package", err)
	}
	return pkg, cfg
}

// loadPackage reads root's persona.yaml and opens root once with a logger
// built from it. Log output goes to out, or stderr when out is nil.
func loadPackage(root string, out io.Writer) (*persona.Package, *config.Config, error) {
	if root == "" {
		root = "."
	}
	cfg, err := config.Load(filepath.Join(root, persona.ConfigFile))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Out: out})
	pkg, err := persona.Open(root, persona.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return pkg, cfg, nil
}

func openStore(pkg *persona.Package) *store.SQLiteStore {
	s, err := store.NewSQLiteStore(pkg)
	if err != nil {
		exitErr("open judgment store", err)
	}
	return s
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

// exitCode exits with code after output was printed, for checks that ran
// but failed.
func exitCode(code int) {
	os.Exit(code)
}

func printJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitErr("encode output", err)
	}
	fmt.Println(string(b))
}

func textFormat() bool {
	return strings.EqualFold(formatFlag, "text")
}

// readInput returns the positional args joined, or piped stdin when there
// are none.
func readInput(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, err := os.Stdin.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		return ""
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}
	return string(b)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
