package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/historify-project/historify/internal/lock"
	"github.com/historify-project/historify/internal/verify"
	"github.com/historify-project/historify/pkg/color"
)

var (
	verifyFullChain  bool
	verifyCheckFiles bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify signatures and hash-chain continuity",
	Long: `Verify the chain. By default only the most recent closed log and its
link are checked; --full-chain walks from the seed forward, and
--check-files additionally rehashes every live file.

A verify row documenting the result is appended to the open log.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, l, err := lockedRepo(lock.Shared)
		if err != nil {
			return err
		}
		defer l.Release()

		verifier := verify.New(r, newSigner(r))
		report, err := verifier.Verify(verify.Options{
			FullChain:  verifyFullChain,
			CheckFiles: verifyCheckFiles,
			Record:     true,
		})
		if err != nil {
			return err
		}

		if outputJSON(report) {
			return report.Err()
		}

		if report.OK {
			fmt.Printf("%s (%s, %d logs", color.Success("Verification OK"), report.Scope, report.CheckedLogs)
			if report.CheckedFiles > 0 {
				fmt.Printf(", %d files", report.CheckedFiles)
			}
			fmt.Println(")")
			if report.RebuiltIndex {
				fmt.Println(color.Warning("integrity index was rebuilt from logs"))
			}
			return nil
		}

		fmt.Println(color.Error("Verification FAILED"))
		for _, f := range report.Failures {
			target := f.File
			if f.Path != "" {
				target += ":" + f.Path
			}
			fmt.Printf("  [%s] %s: %s\n", f.Kind, target, f.Detail)
		}
		return report.Err()
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyFullChain, "full-chain", false, "verify the whole chain from the seed")
	verifyCmd.Flags().BoolVar(&verifyCheckFiles, "check-files", false, "rehash every live file")
	rootCmd.AddCommand(verifyCmd)
}
