package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/historify-project/historify/internal/index"
	"github.com/historify-project/historify/internal/lock"
	"github.com/historify-project/historify/internal/repo"
	"github.com/historify-project/historify/internal/state"
	"github.com/historify-project/historify/pkg/color"
)

var statusCategory string

type statusReport struct {
	Repository string                         `json:"repository"`
	SeedSigned bool                           `json:"seed_signed"`
	Logs       int                            `json:"logs"`
	OpenLog    string                         `json:"open_log,omitempty"`
	LastClosed string                         `json:"last_closed,omitempty"`
	Categories map[string]index.CategoryStats `json:"categories"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show repository and category status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, l, err := lockedRepo(lock.Shared)
		if err != nil {
			return err
		}
		defer l.Release()

		report := statusReport{
			Repository: r.Config.Get("repository.name", ""),
			Categories: map[string]index.CategoryStats{},
		}

		if _, err := os.Stat(r.SeedSigPath()); err == nil {
			report.SeedSigned = true
		}

		store := r.Store()
		logs, err := store.List()
		if err != nil {
			return err
		}
		report.Logs = len(logs)
		for _, lg := range logs {
			if lg.Signed {
				report.LastClosed = lg.Name
			} else {
				report.OpenLog = lg.Name
			}
		}

		stats, err := categoryStats(r)
		if err != nil {
			return err
		}
		for name, s := range stats {
			if statusCategory != "" && name != statusCategory {
				continue
			}
			report.Categories[name] = s
		}
		// Configured categories with no recorded files still show up.
		for _, cat := range r.Categories() {
			if statusCategory != "" && cat.Name != statusCategory {
				continue
			}
			if _, ok := report.Categories[cat.Name]; !ok {
				report.Categories[cat.Name] = index.CategoryStats{}
			}
		}

		if outputJSON(report) {
			return nil
		}

		fmt.Printf("Repository: %s\n", color.Header(report.Repository))
		seed := color.Error("unsigned")
		if report.SeedSigned {
			seed = color.Success("signed")
		}
		fmt.Printf("  Seed: %s   Logs: %d\n", seed, report.Logs)
		if report.OpenLog != "" {
			fmt.Printf("  Open log: %s\n", report.OpenLog)
		}
		if report.LastClosed != "" {
			fmt.Printf("  Last closed: %s\n", report.LastClosed)
		}
		names := make([]string, 0, len(report.Categories))
		for name := range report.Categories {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := report.Categories[name]
			fmt.Printf("  %s: %d files, %d bytes\n", color.Category(name), s.Files, s.TotalSize)
		}
		return nil
	},
}

// categoryStats prefers the SQLite cache and falls back to a full replay
// when the cache is unavailable.
func categoryStats(r *repo.Repository) (map[string]index.CategoryStats, error) {
	if _, err := os.Stat(r.CachePath()); err == nil {
		cache, err := index.OpenCache(r.CachePath())
		if err == nil {
			defer cache.Close()
			if stats, err := cache.Stats(); err == nil {
				return stats, nil
			}
		}
	}

	res, err := state.Reconstruct(r.Store(), state.Options{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]index.CategoryStats)
	for cat, files := range res.State {
		var s index.CategoryStats
		for _, fs := range files {
			s.Files++
			s.TotalSize += fs.Size
		}
		out[cat] = s
	}
	return out, nil
}

func init() {
	statusCmd.Flags().StringVar(&statusCategory, "category", "", "show only this category")
	rootCmd.AddCommand(statusCmd)
}
