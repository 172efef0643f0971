package cli

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flightline/flightline/internal/backlog"
	"github.com/flightline/flightline/internal/config"
	"github.com/flightline/flightline/internal/mailbox"
	"github.com/flightline/flightline/internal/mirror"
	"github.com/flightline/flightline/internal/notify"
	"github.com/flightline/flightline/internal/relay"
	"github.com/flightline/flightline/internal/timeline"
)

var (
	relayCmd = &cobra.Command{
		Use:   "relay",
		Short: "Run the mailbox job-relay daemons",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	relayDispatcherCmd = &cobra.Command{
		Use:   "dispatcher",
		Short: "Run the pipeline head: seed backlog items and track completion",
		RunE:  runRelayDispatcher,
	}

	relayWorkerCmd = &cobra.Command{
		Use:   "worker",
		Short: "Run a pipeline worker for one role",
		RunE:  runRelayWorker,
	}
)

func init() {
	relayWorkerCmd.Flags().String("role", "", "Pipeline role this worker serves (falls back to config)")
	relayWorkerCmd.Flags().String("agent", "", "Mailbox agent name (defaults to the role)")
	relayCmd.AddCommand(relayDispatcherCmd, relayWorkerCmd)
	rootCmd.AddCommand(relayCmd)
}

// relaySetup holds the collaborators both daemons share.
type relaySetup struct {
	cfg    *config.Config
	mail   *mailbox.Client
	runner *relay.ExecRunner
	tl     *timeline.Service
	pub    *mirror.Publisher
}

func newRelaySetup() (*relaySetup, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	runner, err := relay.NewExecRunner(cfg.Runner)
	if err != nil {
		return nil, err
	}
	s := &relaySetup{
		cfg:    cfg,
		runner: runner,
		mail: mailbox.NewClient(mailbox.Options{
			BaseURL:     cfg.Mailbox.URL,
			APIKey:      cfg.Mailbox.APIKey,
			ProjectPath: cfg.Mailbox.ProjectPath,
			Timeout:     cfg.Mailbox.Timeout,
		}),
		pub: mirror.NewPublisher(cfg.Mirror),
	}
	if cfg.Timeline.Enabled && cfg.Timeline.DBPath != "" {
		tl, err := timeline.NewService(cfg.Timeline.DBPath)
		if err != nil {
			slog.Warn("Timeline unavailable, continuing without it", "error", err)
		} else {
			s.tl = tl
		}
	}
	return s, nil
}

func (s *relaySetup) close() {
	if s.tl != nil {
		s.tl.Close()
	}
	if s.pub != nil {
		_ = s.pub.Close()
	}
}

func runRelayDispatcher(cmd *cobra.Command, args []string) error {
	s, err := newRelaySetup()
	if err != nil {
		return err
	}
	defer s.close()

	// The dispatcher's identity comes from the pipeline head stage, not the
	// per-daemon relay role config, which names the worker on this machine.
	d, err := relay.NewDispatcher(relay.DispatcherOptions{
		Mail:          s.mail,
		Runner:        s.runner,
		Tracker:       backlog.NewCLIClient(s.cfg.Backlog),
		Pipeline:      s.cfg.Relay.Pipeline,
		ActiveLabel:   s.cfg.Backlog.ActiveLabel,
		ProjectName:   s.cfg.Mailbox.ProjectName,
		ContactPolicy: s.cfg.Mailbox.ContactPolicy,
		PollInterval:  s.cfg.Relay.PollInterval,
		Timeline:      s.tl,
		Mirror:        s.pub,
		Notify:        notify.NewService(s.cfg.Notify),
	})
	if err != nil {
		return err
	}

	printHeader("🛫 Flightline Dispatcher")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runRelayWorker(cmd *cobra.Command, args []string) error {
	s, err := newRelaySetup()
	if err != nil {
		return err
	}
	defer s.close()

	role, _ := cmd.Flags().GetString("role")
	agent, _ := cmd.Flags().GetString("agent")
	if role == "" {
		role = s.cfg.Relay.Role
		if agent == "" {
			agent = s.cfg.Relay.AgentName
		}
	}
	w, err := relay.NewWorker(relay.WorkerOptions{
		Mail:          s.mail,
		Runner:        s.runner,
		Role:          role,
		AgentName:     agent,
		ProjectName:   s.cfg.Mailbox.ProjectName,
		ContactPolicy: s.cfg.Mailbox.ContactPolicy,
		PollInterval:  s.cfg.Relay.PollInterval,
		Timeline:      s.tl,
		Mirror:        s.pub,
	})
	if err != nil {
		return err
	}

	printHeader("🔩 Flightline Worker")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
