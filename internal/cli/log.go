package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/historify-project/historify/internal/changelog"
	"github.com/historify-project/historify/internal/lock"
	"github.com/historify-project/historify/pkg/errclass"
)

var (
	logFile     string
	logCategory string
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Print recorded change events",
	Long: `Print events from the change logs. --file selects a single day's log by
date; --category restricts to one category's events.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, l, err := lockedRepo(lock.Shared)
		if err != nil {
			return err
		}
		defer l.Release()

		store := r.Store()
		logs, err := store.List()
		if err != nil {
			return err
		}

		if logFile != "" {
			name := fmt.Sprintf("changelog-%s.csv", logFile)
			found := false
			for _, lg := range logs {
				if lg.Name == name {
					found = true
					break
				}
			}
			if !found {
				return errclass.ErrConfig.WithMessagef("no change log for date %s", logFile)
			}
			logs = []changelog.LogInfo{{Name: name}}
		}

		var events []*changelog.Event
		for _, lg := range logs {
			err := store.Read(lg.Name, func(ev *changelog.Event) error {
				if logCategory != "" && ev.Category != logCategory {
					return nil
				}
				events = append(events, ev)
				return nil
			})
			if err != nil {
				return err
			}
		}

		if jsonOutput {
			type row struct {
				Timestamp string `json:"timestamp"`
				Type      string `json:"type"`
				Category  string `json:"category,omitempty"`
				Path      string `json:"path,omitempty"`
				BLAKE3    string `json:"blake3,omitempty"`
				Extra     string `json:"extra,omitempty"`
			}
			rows := make([]row, len(events))
			for i, ev := range events {
				rows[i] = row{
					Timestamp: ev.Timestamp.Format("2006-01-02T15:04:05Z"),
					Type:      string(ev.Type),
					Category:  ev.Category,
					Path:      ev.Path,
					BLAKE3:    ev.BLAKE3,
					Extra:     ev.Extra.String(),
				}
			}
			outputJSON(rows)
			return nil
		}

		for _, ev := range events {
			line := ev.String()
			if extra := ev.Extra.String(); extra != "" {
				line += "  (" + extra + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	logCmd.Flags().StringVar(&logFile, "file", "", "date of a single log to print (YYYY-MM-DD)")
	logCmd.Flags().StringVar(&logCategory, "category", "", "restrict to one category")
	rootCmd.AddCommand(logCmd)
}
