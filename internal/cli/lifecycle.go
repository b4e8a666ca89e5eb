package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/historify-project/historify/internal/chain"
	"github.com/historify-project/historify/internal/lock"
	"github.com/historify-project/historify/pkg/color"
)

// start and closing are the same operation: sign whatever is open (the
// seed on first use) and open a fresh log bound to it.
func runClosing(cmd *cobra.Command, args []string) error {
	r, l, err := lockedRepo(lock.Exclusive)
	if err != nil {
		return err
	}
	defer l.Release()

	mgr := chain.NewManager(r, newSigner(r))

	logs, err := r.Store().List()
	if err != nil {
		return err
	}

	var res *chain.Result
	if len(logs) == 0 {
		res, err = mgr.Bootstrap()
	} else {
		res, err = mgr.CloseAndOpen()
	}
	if err != nil {
		return err
	}

	if outputJSON(res) {
		return nil
	}
	if res.Closed != "" {
		fmt.Printf("Signed %s\n", color.Success(res.Closed))
	}
	fmt.Printf("Opened %s\n", color.Success(res.Opened))
	return nil
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new transaction period",
	Long: `Close the current period and open a new change log. On first use this
signs the seed and creates the first log of the chain.`,
	Args: cobra.NoArgs,
	RunE: runClosing,
}

var closingCmd = &cobra.Command{
	Use:   "closing",
	Short: "Sign the open change log and open its successor",
	Args:  cobra.NoArgs,
	RunE:  runClosing,
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(closingCmd)
}
