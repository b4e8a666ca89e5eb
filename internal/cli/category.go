package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/historify-project/historify/internal/lock"
	"github.com/historify-project/historify/pkg/color"
)

var addCategoryCmd = &cobra.Command{
	Use:   "add-category NAME PATH",
	Short: "Register a data root as a scan category",
	Long: `Register a category named NAME rooted at PATH. PATH may be absolute or
relative to the repository root. Category names match [A-Za-z0-9_-]+.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, path := args[0], args[1]

		r, l, err := lockedRepo(lock.Exclusive)
		if err != nil {
			return err
		}
		defer l.Release()

		if err := r.AddCategory(name, path); err != nil {
			return err
		}

		if outputJSON(map[string]string{"category": name, "path": path}) {
			return nil
		}
		fmt.Printf("Added category %s at %s\n", color.Category(name), path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addCategoryCmd)
}
