package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetcap/pkg/capture/browser"
	"github.com/otherjamesbrown/meetcap/pkg/capture/platform"
	"github.com/otherjamesbrown/meetcap/pkg/capture/session"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
	"github.com/otherjamesbrown/meetcap/pkg/worker"
)

// NewRunCommand creates the long-running worker command.
func NewRunCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Claim and capture meetings until interrupted",
		Long: `Run the capture worker.

The worker claims the oldest meeting waiting for a capture bot, joins it with
an automated browser, uploads the recording in chunks and hands the meeting
over to transcription. When nothing is waiting it polls again after
worker.poll_interval.

SIGINT or SIGTERM stops claiming; a capture already in progress is finalized
before the command returns.

Ops endpoints (/metrics, /healthz, /version) are served on metrics_addr.`,
		Example: `  meetcap run
  meetcap run --config /etc/meetcap/meetcap.yaml
  MEETCAP_CORE_MODE=local meetcap run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), deps, false)
		},
	}
}

// NewOnceCommand creates the single-shot worker command.
func NewOnceCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Capture at most one meeting and exit",
		Long: `Claim at most one meeting, capture it and exit.

Intended for cron jobs and Kubernetes Jobs. Exits with status 0 when nothing
was waiting. A failed capture is reported to the lifecycle owner and does not
fail the command; a failed claim does.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), deps, true)
		},
	}
}

// onceRunner is the part of worker.Worker used by single-shot mode.
type onceRunner interface {
	RunOnce(ctx context.Context) (bool, error)
}

func runWorker(ctx context.Context, deps *CommandDeps, once bool) error {
	s, err := openServices(ctx, deps, serviceNeeds{redis: true, blobs: true, metrics: true})
	if err != nil {
		return err
	}
	defer s.close()

	w, stop, err := buildWorker(s)
	if err != nil {
		return err
	}
	defer func() {
		if err := stop(); err != nil {
			s.logger.Warn("Failed to stop browser driver", logging.Err(err))
		}
	}()

	if once {
		return runOnce(ctx, w, deps)
	}

	serveOps(ctx, s.cfg.MetricsAddr, newOpsHandler(s.registry, s.pool), s.logger)
	return w.Run(ctx)
}

func runOnce(ctx context.Context, w onceRunner, deps *CommandDeps) error {
	processed, err := w.RunOnce(ctx)
	if err != nil {
		return err
	}
	if processed {
		fmt.Fprintln(deps.out(), "Processed one meeting.")
	} else {
		fmt.Fprintln(deps.out(), "No meeting waiting for capture.")
	}
	return nil
}

// buildWorker starts the browser driver and assembles the capture pipeline.
// The returned func stops the driver.
func buildWorker(s *services) (*worker.Worker, func() error, error) {
	transitions, err := s.transitions()
	if err != nil {
		return nil, nil, err
	}

	pw, err := browser.StartPlaywright(s.cfg.Capture.InstallBrowsers)
	if err != nil {
		return nil, nil, err
	}

	runner := session.NewRunner(s.cfg.Capture.Session, session.Deps{
		Launcher:    pw,
		Connector:   platform.NewConnector(s.blobs, s.cfg.Capture.TempDir, s.logger),
		Statuses:    s.meetings,
		Transitions: transitions,
		Store:       s.blobs,
		Metrics:     s.metrics,
		Tracer:      s.tracer,
		Logger:      s.logger,
	})

	w := worker.New(s.cfg.Worker, worker.Deps{
		Claimer:  s.meetings,
		Registry: platform.NewRegistry(s.cfg.Capture.Timings, s.logger),
		Capturer: runner,
		Failures: transitions,
		Tracer:   s.tracer,
		Metrics:  s.metrics,
		Events:   s.events,
		Logger:   s.logger,
	})
	return w, pw.Stop, nil
}
