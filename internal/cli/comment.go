package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/historify-project/historify/internal/changelog"
	"github.com/historify-project/historify/internal/lock"
)

var commentCmd = &cobra.Command{
	Use:   "comment MESSAGE",
	Short: "Append a free-text comment to the open change log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, l, err := lockedRepo(lock.Exclusive)
		if err != nil {
			return err
		}
		defer l.Release()

		row := &changelog.Event{
			Timestamp: time.Now().UTC(),
			Type:      changelog.TypeComment,
			Extra:     changelog.Extra{}.With("msg", args[0]),
		}
		if err := r.Store().Append([]*changelog.Event{row}); err != nil {
			return err
		}

		if outputJSON(map[string]string{"comment": args[0]}) {
			return nil
		}
		fmt.Println("Comment recorded")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commentCmd)
}
