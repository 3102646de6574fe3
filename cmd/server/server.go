package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/kokukuma/mdoc-proximity/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	addr         string
	domain       string
	rootCertsDir string
	keysDir      string
	logLevel     string
	sessionTTL   time.Duration
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func run(ctx context.Context) error {
	logger, err := newLogger(logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	defer logger.Sync()

	srv, err := server.NewServer(server.Config{
		Domain:       domain,
		RootCertsDir: rootCertsDir,
		KeysDir:      keysDir,
		SessionTTL:   sessionTTL,
	}, logger)
	if err != nil {
		return err
	}

	r := srv.Router()
	r.Use(handlers.CORS(
		handlers.AllowedMethods([]string{"POST", "GET", "DELETE"}),
		handlers.AllowedHeaders([]string{"content-type"}),
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowCredentials(),
	))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("starting mdoc reader server", zap.String("addr", addr), zap.String("domain", domain))
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func main() {
	root := &cobra.Command{
		Use:   "server",
		Short: "mdoc reader: online verification and proximity sessions over websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx)
		},
		SilenceUsage: true,
	}

	root.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	root.Flags().StringVar(&domain, "domain", envOr("SERVER_DOMAIN", "localhost"), "relying party domain (env SERVER_DOMAIN)")
	root.Flags().StringVar(&rootCertsDir, "root-certs", envOr("ROOT_CERTS_DIR", "internal/server/pems"), "trusted issuer certificates directory (env ROOT_CERTS_DIR)")
	root.Flags().StringVar(&keysDir, "keys-dir", envOr("READER_KEYS_DIR", ""), "reader root CA directory; empty keeps it in memory (env READER_KEYS_DIR)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	root.Flags().DurationVar(&sessionTTL, "session-ttl", 10*time.Minute, "lifetime of verification sessions")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
