package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/match-server/internal/config"
	"github.com/DoyleJ11/match-server/internal/dispatch"
	"github.com/DoyleJ11/match-server/internal/engine"
	"github.com/DoyleJ11/match-server/internal/httpapi"
	"github.com/DoyleJ11/match-server/internal/hub"
	"github.com/DoyleJ11/match-server/internal/logging"
	"github.com/DoyleJ11/match-server/internal/match"
	"github.com/DoyleJ11/match-server/internal/ws"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		envFile  string
		host     string
		port     int
		logLevel string
	)

	cmd := &cobra.Command{
		Use:          "match-server",
		Short:        "Real-time multiplayer match server over websockets",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("host") {
				cfg.Host = host
			}
			if flags.Changed("port") {
				cfg.Port = port
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "optional dotenv file")
	cmd.Flags().StringVar(&host, "host", "", "listen host (empty binds all interfaces)")
	cmd.Flags().IntVar(&port, "port", 8001, "listen port")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	h := hub.New(ctx, engine.DefaultCatalog(), hub.Options{
		Match: match.Options{
			ActionTimeout:  cfg.ActionTimeout,
			QueueWarnDepth: cfg.QueueWarnDepth,
		},
		Retention: cfg.MatchRetention,
	}, logger.Named("hub"))
	defer h.Close()

	handler := httpapi.SetupRoutes(httpapi.Deps{
		Hub:        h,
		Dispatcher: dispatch.New(h, logger.Named("dispatch")),
		WS: ws.Options{
			ReadLimit:    cfg.ReadLimit,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger.Named("http"),
	})

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
