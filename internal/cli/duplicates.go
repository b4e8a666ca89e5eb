package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/historify-project/historify/internal/lock"
	"github.com/historify-project/historify/internal/scan"
	"github.com/historify-project/historify/internal/state"
	"github.com/historify-project/historify/pkg/color"
)

var duplicatesCategory string

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "Report files with identical content",
	Long: `Group the last known state by blake3 digest and report groups with more
than one live path. Read-only; writes no events.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, l, err := lockedRepo(lock.Shared)
		if err != nil {
			return err
		}
		defer l.Release()

		res, err := state.Reconstruct(r.Store(), state.Options{})
		if err != nil {
			return err
		}

		groups := scan.Duplicates(res.State, duplicatesCategory)
		if outputJSON(groups) {
			return nil
		}
		if len(groups) == 0 {
			fmt.Println("No duplicates found")
			return nil
		}
		for _, g := range groups {
			fmt.Printf("%s (%d bytes)\n", color.Digest(g.BLAKE3), g.Size)
			for _, p := range g.Paths {
				fmt.Printf("  %s\n", p)
			}
		}
		return nil
	},
}

func init() {
	duplicatesCmd.Flags().StringVar(&duplicatesCategory, "category", "", "restrict to one category")
	rootCmd.AddCommand(duplicatesCmd)
}
