package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fitstack/backoffice/internal/app"
	"github.com/fitstack/backoffice/internal/shared/infrastructure/locking"
	"github.com/fitstack/backoffice/internal/shared/infrastructure/outbox"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background worker: outbox processor and expiry sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Migrate(ctx); err != nil {
			return err
		}

		processor := outbox.NewProcessor(a.Outbox, a.DomainPublisher, outbox.ProcessorConfig{
			PollInterval: a.Config.OutboxPollInterval,
			BatchSize:    a.Config.OutboxBatchSize,
			MaxRetries:   a.Config.OutboxMaxRetries,
		}, a.Logger)

		if err := processor.Start(ctx); err != nil {
			return err
		}
		defer processor.Stop()

		go runOutboxCleanup(ctx, a)
		go runSweepScheduler(ctx, a)
		if a.Config.WorkerHealthAddr != "" {
			go runHealthServer(ctx, a, processor)
		}

		a.Logger.Info("worker started",
			"sweep_interval", a.Config.SweepInterval,
			"outbox_poll_interval", a.Config.OutboxPollInterval,
		)

		<-ctx.Done()
		a.Logger.Info("worker shutting down")
		return nil
	},
}

// runHealthServer serves liveness with processor counters on a side port.
func runHealthServer(ctx context.Context, a *app.App, processor *outbox.Processor) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		stats := processor.GetStats()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":        "ok",
			"running":       stats.IsRunning,
			"published":     stats.PublishedCount,
			"failed":        stats.FailedCount,
			"dead":          stats.DeadCount,
			"last_error":    stats.LastError,
			"last_error_at": stats.LastErrorAt,
		})
	})

	srv := &http.Server{
		Addr:              a.Config.WorkerHealthAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.Logger.Info("worker health server starting", "addr", a.Config.WorkerHealthAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.Logger.Error("worker health server error", "error", err)
	}
}

func runOutboxCleanup(ctx context.Context, a *app.App) {
	ticker := time.NewTicker(a.Config.OutboxCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := a.Outbox.DeleteOld(ctx, a.Config.OutboxRetentionDays)
			if err != nil {
				a.Logger.Error("outbox cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				a.Logger.Info("outbox cleanup completed",
					"deleted", deleted,
					"retention_days", a.Config.OutboxRetentionDays,
				)
			}
		}
	}
}

// runSweepScheduler runs the expiry sweep on its interval. The Redis lock
// keeps concurrent worker instances from double-notifying; losing the
// acquisition simply skips the round.
func runSweepScheduler(ctx context.Context, a *app.App) {
	ticker := time.NewTicker(a.Config.SweepInterval)
	defer ticker.Stop()

	if a.Config.SweepOnStart {
		runLockedSweep(ctx, a)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runLockedSweep(ctx, a)
		}
	}
}

func runLockedSweep(ctx context.Context, a *app.App) {
	lock := a.SweepLock()
	if err := lock.Acquire(ctx); err != nil {
		if errors.Is(err, locking.ErrNotAcquired) {
			a.Logger.Info("sweep already running elsewhere, skipping")
		} else {
			a.Logger.Error("sweep lock acquisition failed", "error", err)
		}
		return
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			a.Logger.Warn("sweep lock release failed", "error", err)
		}
	}()

	report, err := a.Sweep.Sweep(ctx)
	if err != nil {
		a.Logger.Error("sweep failed", "error", err)
		return
	}
	a.Logger.Info("sweep completed",
		"scanned", report.Scanned,
		"notified", report.Notified,
		"renewed", report.Renewed,
		"failed", report.Failed,
	)
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
