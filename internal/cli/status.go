package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/flightline/flightline/internal/config"
	"github.com/flightline/flightline/internal/lock"
	"github.com/flightline/flightline/internal/mailbox"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ Flightline Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store, lock, and mailbox status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	printHeader("📊 Flightline Status")
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Version: %s\n", version)

	if path, err := config.ConfigPath(); err == nil {
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(out, "Config:   ✓ %s\n", path)
		} else {
			fmt.Fprintf(out, "Config:   ✗ not found (%s), using defaults\n", path)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, _, err := openStore()
	if err != nil {
		return err
	}
	if doc, err := store.Read(); err != nil {
		fmt.Fprintf(out, "Store:    ✗ %s (%v)\n", store.Path(), err)
	} else {
		fmt.Fprintf(out, "Store:    ✓ %s (namespaces=%d journal=%d updated=%s)\n",
			store.Path(), len(doc.Namespaces), len(doc.Journal), doc.UpdatedAt)
	}

	if rec, err := lock.Inspect(cfg.Lock.Path); err != nil {
		fmt.Fprintf(out, "Lock:     ✗ %v\n", err)
	} else if rec == nil {
		fmt.Fprintln(out, "Lock:     free")
	} else if rec.Expired(time.Now()) {
		fmt.Fprintf(out, "Lock:     stale (owner %s, expired %s)\n", rec.Owner, rec.ExpiresAt.Format(time.RFC3339))
	} else {
		fmt.Fprintf(out, "Lock:     held by %s until %s\n", rec.Owner, rec.ExpiresAt.Format(time.RFC3339))
	}

	if cfg.Timeline.Enabled {
		if _, err := os.Stat(cfg.Timeline.DBPath); err == nil {
			fmt.Fprintf(out, "Timeline: ✓ %s\n", cfg.Timeline.DBPath)
		} else {
			fmt.Fprintf(out, "Timeline: enabled, no database yet (%s)\n", cfg.Timeline.DBPath)
		}
	} else {
		fmt.Fprintln(out, "Timeline: disabled")
	}

	mail := mailbox.NewClient(mailbox.Options{
		BaseURL:     cfg.Mailbox.URL,
		APIKey:      cfg.Mailbox.APIKey,
		ProjectPath: cfg.Mailbox.ProjectPath,
		Timeout:     5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if mail.Healthy(ctx) {
		fmt.Fprintf(out, "Mailbox:  ✓ %s\n", cfg.Mailbox.URL)
	} else {
		fmt.Fprintf(out, "Mailbox:  ✗ %s unreachable\n", cfg.Mailbox.URL)
	}

	if cfg.Mirror.Enabled {
		fmt.Fprintf(out, "Mirror:   enabled (brokers=%s topic=%s)\n", cfg.Mirror.Brokers, cfg.Mirror.Topic)
	}
	return nil
}
