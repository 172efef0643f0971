package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flightline/flightline/internal/config"
	"github.com/flightline/flightline/internal/plane"
	"github.com/flightline/flightline/internal/timeline"
)

var landCmd = &cobra.Command{
	Use:   "land",
	Short: "Run the lock-guarded maintenance pass over the plane document",
	Long: "Land acquires the plane lock, creates the document if missing, compacts\n" +
		"the journal, and releases the lock. Agents run it before and after\n" +
		"multi-step mutation sequences.",
	RunE: runLand,
}

func init() {
	landCmd.Flags().Int("max", 0, "Journal entries to keep (default from config)")
	rootCmd.AddCommand(landCmd)
}

func runLand(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	max, _ := cmd.Flags().GetInt("max")
	if max <= 0 {
		max = cfg.Store.MaxJournalEntries
	}

	res, err := plane.Land(store, plane.LandOptions{
		LockPath:          cfg.Lock.Path,
		LockName:          cfg.Lock.Name,
		TTL:               cfg.Lock.TTL,
		MaxJournalEntries: max,
	})
	recordLandRun(cfg, store.Path(), res)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Landed %s\n", store.Path())
	fmt.Fprintf(out, "  created:  %v\n", res.Created)
	fmt.Fprintf(out, "  dropped:  %d journal entries\n", res.Dropped)
	fmt.Fprintf(out, "  released: %v\n", res.Released)
	return nil
}

// recordLandRun writes the land outcome to the local timeline. Best-effort:
// a broken timeline never fails the landing.
func recordLandRun(cfg *config.Config, storePath string, res *plane.LandResult) {
	if res == nil || !cfg.Timeline.Enabled || cfg.Timeline.DBPath == "" {
		return
	}
	tl, err := timeline.NewService(cfg.Timeline.DBPath)
	if err != nil {
		return
	}
	defer tl.Close()
	_ = tl.AddLandRun(storePath, res.Owner, res.Created, res.Dropped, res.Released)
}
