package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/kseo/cache"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, MCP endpoint and batch scheduler",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	done := make(chan struct{})
	defer close(done)

	h, mm := a.handler()
	mm.StartReloader(done)
	a.limiter.StartReloader(done)
	if m, ok := a.counter.(*cache.Memory); ok {
		m.StartGC(done, time.Minute)
	}
	go purgeLoop(ctx, a)

	if cfg.Jobs.Enabled && a.runner != nil {
		go a.runner.Run(ctx)
		logger.Info("jobs: scheduler started", "sitemap", cfg.Jobs.SitemapURL, "interval", cfg.Jobs.Interval)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("kseo listening", "addr", cfg.Server.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("kseo stopped")
	return nil
}

// purgeLoop deletes expired cache rows and old audit entries every 10 minutes.
func purgeLoop(ctx context.Context, a *app) {
	tick := time.NewTicker(10 * time.Minute)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if n, err := a.flags.Purge(ctx); err != nil {
				logger.Warn("cache: purge failed", "error", err)
			} else if n > 0 {
				logger.Debug("cache: purged", "rows", n)
			}
			if n, err := a.audit.Cleanup(ctx, cfg.Server.AuditRetention); err != nil {
				logger.Warn("audit: cleanup failed", "error", err)
			} else if n > 0 {
				logger.Debug("audit: cleaned up", "rows", n)
			}
		}
	}
}
