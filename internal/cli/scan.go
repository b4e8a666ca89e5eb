package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/historify-project/historify/internal/changelog"
	"github.com/historify-project/historify/internal/index"
	"github.com/historify-project/historify/internal/lock"
	"github.com/historify-project/historify/internal/repo"
	"github.com/historify-project/historify/internal/scan"
	"github.com/historify-project/historify/internal/state"
	"github.com/historify-project/historify/pkg/color"
	"github.com/historify-project/historify/pkg/config"
	"github.com/historify-project/historify/pkg/errclass"
)

var scanCategory string

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan categories and record changes",
	Long: `Walk each category root, classify additions, modifications, moves and
deletions against the last known state, and append the resulting events to
the open change log as one batch.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, l, err := lockedRepo(lock.Exclusive)
		if err != nil {
			return err
		}
		defer l.Release()

		cats, err := selectCategories(r, scanCategory)
		if err != nil {
			return err
		}

		store := r.Store()
		if _, err := store.Open(); err != nil {
			return err
		}

		res, err := state.Reconstruct(store, state.Options{})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		scanner := scan.New(r)
		start := time.Now().UTC()

		var events []*changelog.Event
		for _, cat := range cats {
			skipped := scan.SkippedPaths(res.Comments[cat.Name])
			evs, err := scanner.ScanCategory(ctx, cat, res.State.Category(cat.Name), skipped, start)
			if err != nil {
				return err
			}
			events = append(events, evs...)
		}

		if len(events) > 0 {
			if err := store.Append(events); err != nil {
				return err
			}
			if err := refreshIndex(r, store); err != nil {
				return err
			}
		}

		if outputJSON(map[string]any{"events": len(events), "categories": len(cats)}) {
			return nil
		}
		fmt.Printf("Scanned %d categories, recorded %s\n",
			len(cats), color.Highlight(fmt.Sprintf("%d events", len(events))))
		return nil
	},
}

// selectCategories picks one named category or all of them. Scanning with
// no categories configured is an error.
func selectCategories(r *repo.Repository, name string) ([]config.Category, error) {
	if name != "" {
		cat, err := r.Category(name)
		if err != nil {
			return nil, err
		}
		return []config.Category{cat}, nil
	}
	cats := r.Categories()
	if len(cats) == 0 {
		return nil, errclass.ErrConfig.WithMessage("no categories configured; run add-category first")
	}
	return cats, nil
}

// refreshIndex rewrites the derived integrity index and SQLite cache from
// the logs. Both are disposable; failures to cache are downgraded.
func refreshIndex(r *repo.Repository, store *changelog.Store) error {
	res, err := state.Reconstruct(store, state.Options{})
	if err != nil {
		return err
	}
	if err := index.Write(r.IndexPath(), res.State); err != nil {
		return err
	}
	cache, err := index.OpenCache(r.CachePath())
	if err != nil {
		return nil
	}
	defer cache.Close()
	cache.Refresh(res.State, res.Chain)
	return nil
}

func init() {
	scanCmd.Flags().StringVar(&scanCategory, "category", "", "scan only this category")
	rootCmd.AddCommand(scanCmd)
}
