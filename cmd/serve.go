package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-engine/internal/api"
)

const shutdownTimeout = 15 * time.Second

var (
	servePort       int
	serveNoOutbox   bool
	serveNoMonitors bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API with the outbox dispatcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		cfg.Server.Port = port

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		conv, err := env.conversion()
		if err != nil {
			return err
		}
		server := api.NewServer(api.Deps{
			Discovery: env.discovery(),
			Outreach:  env.orchestrator(),
			Replies:   conv,
			Inbound:   env.gateway(conv),
			Health:    env.Store,
			Metrics:   env.Metrics,
		}, cfg.Server)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			err := srv.Shutdown(shutdownCtx)
			server.Wait()
			return err
		})
		if !serveNoOutbox {
			d := env.dispatcher()
			g.Go(func() error { return d.Run(gctx) })
		}
		if cfg.Monitoring.Enabled && !serveNoMonitors {
			checker := env.checker()
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoOutbox, "no-outbox", false, "do not run the outbox dispatcher in this process")
	serveCmd.Flags().BoolVar(&serveNoMonitors, "no-monitoring", false, "do not run the alert checker in this process")
	rootCmd.AddCommand(serveCmd)
}
