package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/flightline/flightline/internal/config"
	"github.com/flightline/flightline/internal/timeline"
)

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Show recent relay activity from the local audit trail",
	RunE:  runTimeline,
}

func init() {
	timelineCmd.Flags().Int("limit", 20, "Maximum rows per section")
	timelineCmd.Flags().String("issue", "", "Show the full event history of one work item")
	rootCmd.AddCommand(timelineCmd)
}

func runTimeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if !cfg.Timeline.Enabled || cfg.Timeline.DBPath == "" {
		fmt.Fprintln(w, "Timeline disabled.")
		return nil
	}
	tl, err := timeline.NewService(cfg.Timeline.DBPath)
	if err != nil {
		return err
	}
	defer tl.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	issue, _ := cmd.Flags().GetString("issue")

	printHeader("📜 Flightline Timeline")

	if issue != "" {
		events, err := tl.EventsForIssue(issue)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Fprintf(w, "No events for %s.\n", issue)
			return nil
		}
		for _, evt := range events {
			printEvent(w, evt)
		}
		return nil
	}

	events, err := tl.RecentEvents(limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Events (newest first):")
	if len(events) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, evt := range events {
		printEvent(w, evt)
	}

	runs, err := tl.ItemRuns(limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Work items:")
	if len(runs) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, run := range runs {
		fmt.Fprintf(w, "  %-12s %-11s runs=%d updated=%s\n",
			run.IssueID, run.Status, run.Runs, run.UpdatedAt.UTC().Format(time.RFC3339))
	}

	lands, err := tl.RecentLandRuns(limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Land runs:")
	if len(lands) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, lr := range lands {
		fmt.Fprintf(w, "  %s  %s  dropped=%d released=%v\n",
			lr.RanAt.UTC().Format(time.RFC3339), lr.StorePath, lr.Dropped, lr.Released)
	}
	return nil
}

func printEvent(w io.Writer, evt timeline.Event) {
	line := fmt.Sprintf("  %s  %-16s %s", evt.TS.UTC().Format(time.RFC3339), evt.Kind, evt.IssueID)
	if evt.Step != "" {
		line += "  " + evt.Step
	}
	if evt.Role != "" {
		line += fmt.Sprintf("  (%s, exit %d)", evt.Role, evt.ExitCode)
	}
	if evt.Detail != "" {
		line += "  " + evt.Detail
	}
	fmt.Fprintln(w, line)
}
