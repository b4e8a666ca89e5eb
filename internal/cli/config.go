package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/historify-project/historify/internal/changelog"
	"github.com/historify-project/historify/internal/lock"
	"github.com/historify-project/historify/pkg/color"
	"github.com/historify-project/historify/pkg/config"
	"github.com/historify-project/historify/pkg/errclass"
)

var configCmd = &cobra.Command{
	Use:   "config [KEY VALUE]",
	Short: "Get or set repository configuration",
	Long: `Set a configuration value, or list all values when called without
arguments. Keys use section.option form, e.g. minisign.key or
category.docs.path.`,
	Args: cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch len(args) {
		case 0:
			return listConfig()
		case 1:
			return errclass.ErrConfig.WithMessage("config takes either no arguments or KEY VALUE")
		default:
			return setConfig(args[0], args[1])
		}
	},
}

func listConfig() error {
	r, l, err := lockedRepo(lock.Shared)
	if err != nil {
		return err
	}
	defer l.Release()

	all := r.Config.All()
	if outputJSON(all) {
		return nil
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s = %s\n", k, all[k])
	}
	return nil
}

func setConfig(key, value string) error {
	if err := config.ValidateKey(key); err != nil {
		return err
	}

	r, l, err := lockedRepo(lock.Exclusive)
	if err != nil {
		return err
	}
	defer l.Release()

	if err := r.Config.Set(key, value); err != nil {
		return err
	}
	if err := r.Config.Save(); err != nil {
		return err
	}

	// Record the change in the open log when one exists; configuration is
	// valid before the chain is bootstrapped, so a missing log is fine.
	store := r.Store()
	row := &changelog.Event{
		Timestamp: time.Now().UTC(),
		Type:      changelog.TypeConfig,
		Extra:     changelog.Extra{}.With("key", key).With("value", value),
	}
	if _, oerr := store.Open(); oerr == nil {
		if err := store.Append([]*changelog.Event{row}); err != nil {
			return err
		}
	}

	if outputJSON(map[string]string{"key": key, "value": value}) {
		return nil
	}
	fmt.Printf("Set %s = %s\n", color.Highlight(key), value)
	return nil
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Check the repository configuration for problems",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, l, err := lockedRepo(lock.Shared)
		if err != nil {
			return err
		}
		defer l.Release()

		issues := r.Config.Check(r.Root)
		if outputJSON(issues) {
			if len(issues) > 0 {
				return errclass.ErrConfig.WithMessagef("%d configuration issues", len(issues))
			}
			return nil
		}
		if len(issues) == 0 {
			fmt.Println(color.Success("Configuration OK"))
			return nil
		}
		for _, issue := range issues {
			fmt.Printf("%s %s: %s\n", color.Warning("!"), issue.Key, issue.Problem)
		}
		return errclass.ErrConfig.WithMessagef("%d configuration issues", len(issues))
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(checkConfigCmd)
}
