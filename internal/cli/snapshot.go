package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/historify-project/historify/internal/lock"
	"github.com/historify-project/historify/internal/snapshot"
	"github.com/historify-project/historify/pkg/color"
	"github.com/historify-project/historify/pkg/errclass"
)

var (
	snapshotName  string
	snapshotFull  bool
	snapshotMedia string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot OUTDIR",
	Short: "Package the repository into tar.gz volumes",
	Long: `Write the repository metadata and change logs as a tar.gz archive into
OUTDIR. --full also includes category payload data; --media splits output
into volumes sized for fixed-capacity media (e.g. --media 25G).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		capacity, err := parseCapacity(snapshotMedia)
		if err != nil {
			return err
		}

		r, l, err := lockedRepo(lock.Shared)
		if err != nil {
			return err
		}
		defer l.Release()

		volumes, err := snapshot.Pack(r, args[0], snapshot.Options{
			Name:          snapshotName,
			Full:          snapshotFull,
			MediaCapacity: capacity,
		})
		if err != nil {
			return err
		}

		if outputJSON(volumes) {
			return nil
		}
		for _, v := range volumes {
			fmt.Printf("Wrote %s (%d files, %d bytes)\n", color.Success(v.Path), v.Files, v.Bytes)
		}
		return nil
	},
}

// parseCapacity accepts plain bytes or a K/M/G/T suffixed size.
func parseCapacity(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1<<10, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = 1<<20, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		mult, s = 1<<30, strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		mult, s = 1<<40, strings.TrimSuffix(s, "T")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, errclass.ErrConfig.WithMessagef("invalid media capacity: %s", s)
	}
	return n * mult, nil
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotName, "name", "", "volume base name (default: repository name)")
	snapshotCmd.Flags().BoolVar(&snapshotFull, "full", false, "include category payload data")
	snapshotCmd.Flags().StringVar(&snapshotMedia, "media", "", "split volumes at this capacity (e.g. 25G)")
	rootCmd.AddCommand(snapshotCmd)
}
