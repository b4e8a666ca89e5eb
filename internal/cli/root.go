// Package cli wires the historify commands. Commands construct an explicit
// repository handle, take the repository lock, and delegate to the domain
// packages; no command keeps state between invocations.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/historify-project/historify/pkg/color"
	"github.com/historify-project/historify/pkg/config"
	"github.com/historify-project/historify/pkg/errclass"
	"github.com/historify-project/historify/pkg/logging"
)

var (
	jsonOutput bool
	repoPath   string
	noColor    bool
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "historify",
		Short: "historify - tamper-evident audit trail for file trees",
		Long: `historify records file additions, modifications, moves and deletions
in append-only daily change logs. Closed logs are signed and bound into a
hash chain rooted in a random seed, so any later tampering is detectable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			user, err := config.LoadUser()
			if err != nil {
				user = config.DefaultUser()
			}
			level := user.Logging.Level
			if logLevel != "" {
				level = logLevel
			}
			logging.Setup(level, user.Logging.Format)
			color.Init(noColor || user.NoColor)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&repoPath, "repo", ".", "path to the repository")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// Execute runs the root command and exits with the contract's exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmtErr("%v", err)
		os.Exit(errclass.ExitCode(err))
	}
}

// outputJSON prints v as indented JSON if --json is set and reports
// whether it did.
func outputJSON(v any) bool {
	if !jsonOutput {
		return false
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
	return true
}

func fmtErr(format string, args ...any) {
	prefix := "historify: "
	if color.Enabled() {
		prefix = color.Error("historify:") + " "
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
}
