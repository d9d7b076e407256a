package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/salesqa/salesqa/internal/metrics"
	"github.com/salesqa/salesqa/internal/pipeline"
	"github.com/salesqa/salesqa/internal/web"
)

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API, dashboard and metrics, with optional scheduled runs",
		Args:  cobra.NoArgs,
		RunE:  a.serve,
	}
	addResetFlag(cmd)
	cmd.Flags().Bool("correct", true, "apply corrections after reporting (overrides AUTO_CORRECT)")
	return cmd
}

func (a *app) serve(cmd *cobra.Command, _ []string) error {
	cfg := a.cfg
	slog.Info("configuration loaded", "config", cfg.String())

	m := metrics.New()
	p, err := a.pipeline(true, m)
	if err != nil {
		return err
	}
	limiter := pipeline.NewRunLimiter(cfg.Server.MaxConcurrentRuns, cfg.Server.RunMaxWait)
	runner := pipeline.NewRunner(p, limiter, pipeline.NewStore(cfg.Server.RunHistory))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sched *pipeline.Scheduler
	if cfg.Schedule.Cron != "" {
		if sched, err = pipeline.NewScheduler(cfg.Schedule.Cron, runner); err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	srv := web.NewServer(runner, web.Options{
		Addr:           cfg.Server.Addr(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		RequestTimeout: cfg.Server.RequestTimeout,
		APIKeys:        cfg.Server.APIKeys,
		TrustedProxies: cfg.Server.TrustedProxies,
		Metrics:        m,
		Scheduler:      sched,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if sched != nil {
			sched.Stop()
		}
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-shutdownCtx.Done():
		}
	}

	if st := limiter.Status(); st.Active > 0 {
		slog.Info("waiting for runs to complete", "active", st.Active)
		if err := limiter.WaitForDrain(shutdownCtx); err != nil {
			slog.Warn("runs did not complete in time", "error", err)
		} else {
			slog.Info("all runs completed")
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
