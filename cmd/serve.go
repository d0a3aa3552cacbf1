package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/okian/rollcall/internal/adapters/http/api"
	"github.com/okian/rollcall/internal/adapters/http/swagger"
	service "github.com/okian/rollcall/internal/app"
	"github.com/okian/rollcall/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr, company string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the polling loop",
		Long: `Run the HTTP API. When a company is configured (company_id or
--company) the polling loop starts immediately for it; otherwise start it
with POST /api/v1/loop/start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := root.load(ctx)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if company != "" {
				cfg.CompanyID = company
			}
			return serve(ctx, service.New(service.WithConfig(cfg)), cfg.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides addr)")
	cmd.Flags().StringVar(&company, "company", "", "start the polling loop for this company")
	return cmd
}

// serve runs svc behind the HTTP API until ctx is done.
func serve(ctx context.Context, svc *service.Service, addr string) error {
	log := logger.Get()
	defer func() {
		if err := logger.Sync(); err != nil {
			log.Error(ctx, "failed to sync logger", logger.Error(err))
		}
	}()

	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	// api.Register installs middleware, which chi requires before any route.
	r := chi.NewRouter()
	api.NewServer(svc).Register(ctx, r)
	swagger.Register(ctx, r)
	srv := api.NewHTTPServer(addr, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "starting HTTP server", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(ctx, "server shutdown failed", logger.Error(err))
			return err
		}
		return nil
	})

	err := g.Wait()
	log.Info(ctx, "server stopped")
	return err
}
