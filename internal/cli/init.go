package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/historify-project/historify/internal/repo"
	"github.com/historify-project/historify/pkg/color"
)

var initName string

var initCmd = &cobra.Command{
	Use:   "init [PATH]",
	Short: "Initialize a new historify repository",
	Long: `Initialize a new historify repository at PATH (default: current directory).

This creates:
  - db/ with the configuration store, a 1 MiB random seed and a key archive
  - changes/ for the daily change logs

The seed must be signed (via 'start') before the first scan.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "."
		if len(args) == 1 {
			path = args[0]
		}

		r, err := repo.Init(path, repo.InitOptions{Name: initName})
		if err != nil {
			return err
		}

		if outputJSON(map[string]any{
			"repo_root": r.Root,
			"name":      r.Config.Get("repository.name", ""),
		}) {
			return nil
		}
		fmt.Printf("Initialized historify repository in %s\n", color.Success(r.Root))
		fmt.Printf("  Next: add categories, configure minisign keys, then run %s\n", color.Code("historify start"))
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initName, "name", "", "repository name (default: directory name)")
	rootCmd.AddCommand(initCmd)
}
