package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/flightline/flightline/internal/config"
	"github.com/flightline/flightline/internal/lock"
)

var (
	lockCmd = &cobra.Command{
		Use:   "lock",
		Short: "Inspect and manage the plane advisory lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	lockStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show who holds the plane lock",
		RunE:  runLockStatus,
	}

	lockReleaseCmd = &cobra.Command{
		Use:   "release [owner]",
		Short: "Release the plane lock",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLockRelease,
	}
)

func init() {
	lockReleaseCmd.Flags().Bool("force", false, "Release regardless of the recorded owner")
	lockCmd.AddCommand(lockStatusCmd, lockReleaseCmd)
	rootCmd.AddCommand(lockCmd)
}

func lockPath() (string, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", nil, err
	}
	return cfg.Lock.Path, cfg, nil
}

func runLockStatus(cmd *cobra.Command, args []string) error {
	path, _, err := lockPath()
	if err != nil {
		return err
	}
	rec, err := lock.Inspect(path)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if rec == nil {
		fmt.Fprintf(out, "Lock %s: free\n", path)
		return nil
	}
	state := "held"
	if rec.Expired(time.Now()) {
		state = "stale"
	}
	fmt.Fprintf(out, "Lock %s: %s\n", path, state)
	fmt.Fprintf(out, "  name:    %s\n", rec.Name)
	fmt.Fprintf(out, "  owner:   %s\n", rec.Owner)
	fmt.Fprintf(out, "  expires: %s\n", rec.ExpiresAt.Format(time.RFC3339))
	return nil
}

func runLockRelease(cmd *cobra.Command, args []string) error {
	path, _, err := lockPath()
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")
	owner := ""
	if len(args) > 0 {
		owner = args[0]
	}
	if owner == "" && !force {
		return fmt.Errorf("owner token required unless --force is set")
	}
	released, err := lock.Release(path, owner, force)
	if err != nil {
		return err
	}
	if released {
		fmt.Fprintf(cmd.OutOrStdout(), "Released %s\n", path)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Not released (missing lock or owner mismatch)\n")
	}
	return nil
}
