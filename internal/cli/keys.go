package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/historify-project/historify/internal/lock"
	"github.com/historify-project/historify/pkg/color"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List archived public keys",
	Long: `List the public keys archived in the repository. Keys are archived by
fingerprint on first use so historical signatures remain verifiable after
key rotation.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, l, err := lockedRepo(lock.Shared)
		if err != nil {
			return err
		}
		defer l.Release()

		entries, err := os.ReadDir(r.KeysDir())
		if err != nil && !os.IsNotExist(err) {
			return err
		}

		var fingerprints []string
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".pub") {
				fingerprints = append(fingerprints, strings.TrimSuffix(e.Name(), ".pub"))
			}
		}
		sort.Strings(fingerprints)

		if outputJSON(fingerprints) {
			return nil
		}
		if len(fingerprints) == 0 {
			fmt.Println("No archived keys")
			return nil
		}
		for _, fp := range fingerprints {
			fmt.Printf("%s  %s\n", color.Digest(fp), filepath.Join(r.KeysDir(), fp+".pub"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
}
