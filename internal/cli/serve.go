package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	HTTPAdapter "github.com/bnema/altq/internal/adapter/http"
	"github.com/bnema/altq/internal/adapter/http/ratelimit"
	"github.com/bnema/altq/internal/infrastructure/logger"
	"github.com/bnema/altq/internal/service"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the operator API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(store)

	gen, inspector, err := a.newGenerator()
	if err != nil {
		return err
	}

	eventBus := service.NewEventBus()
	queue := a.newQueue(store, inspector, eventBus)
	worker := a.newWorker(queue, gen, inspector)

	scheduler, closeGate, err := a.newScheduler(ctx, worker)
	if err != nil {
		return err
	}
	defer closeGate()
	queue.SetTickRequester(scheduler)

	var auth *HTTPAdapter.TokenAuth
	if a.cfg.APIEnabled() {
		limiter := ratelimit.NewAuthFailureLimiter(5, 15*time.Minute, 30*time.Minute)
		defer limiter.Stop()

		if auth, err = HTTPAdapter.NewTokenAuth(a.cfg.AdminTokenHash, limiter); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := scheduler.Start(gctx); err != nil {
		return err
	}
	g.Go(func() error {
		<-gctx.Done()
		scheduler.Stop()
		return nil
	})

	if auth != nil {
		httpServer := &http.Server{
			Addr:              a.cfg.Listen,
			Handler:           HTTPAdapter.NewServer(queue, scheduler, eventBus, auth, a.cfg.BehindProxy),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			// Event streams end when the group is cancelled.
			BaseContext: func(net.Listener) context.Context { return gctx },
		}

		g.Go(func() error {
			logger.Info.Printf("operator api listening on %s", a.cfg.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("operator api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http shutdown: %w", err)
			}
			return nil
		})
	} else {
		logger.Warn.Printf("operator api disabled: set ALTQ_LISTEN and ALTQ_ADMIN_TOKEN_HASH to enable it")
	}

	err = g.Wait()
	logger.Info.Printf("shutdown complete")
	return err
}
