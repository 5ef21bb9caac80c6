package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/pgf-fleet/pgfgate/api"
	"github.com/pgf-fleet/pgfgate/config"
	"github.com/pgf-fleet/pgfgate/internal/util"
	"github.com/pgf-fleet/pgfgate/session"
	bboltstore "github.com/pgf-fleet/pgfgate/session/bbolt"
	pgstore "github.com/pgf-fleet/pgfgate/session/postgres"
	redisstore "github.com/pgf-fleet/pgfgate/session/redis"
	"github.com/pgf-fleet/pgfgate/upstream"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the session gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath, cmd.Flags())
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, closeStore, err := openLedgerStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		secret := []byte(cfg.Ledger.Secret)
		keyer, err := session.NewKeyer(secret)
		util.WipeBytes(secret)
		if err != nil {
			return fmt.Errorf("failed to initialize ledger key: %w", err)
		}
		ledger := session.NewLedger(store, keyer)

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics := api.NewMetrics(reg)

		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{}))

		up, err := upstream.New(cfg.Upstream.BaseURL,
			upstream.WithObserver(metrics),
			upstream.WithTimeout(cfg.Upstream.Timeout))
		if err != nil {
			return err
		}

		proxies, err := api.ParseTrustedProxies(cfg.TrustedProxies)
		if err != nil {
			return fmt.Errorf("invalid trusted proxies: %w", err)
		}

		a := api.New(up, ledger,
			api.WithLogger(logger),
			api.WithMetrics(metrics),
			api.WithSecureCookies(cfg.Cookies.Secure),
			api.WithTrustedProxies(proxies),
			api.WithRefreshMargin(cfg.RefreshMargin),
		)
		go a.RunMaintenance(ctx)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		r.Mount("/api", a.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      cfg.Upstream.Timeout + 15*time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if cfg.TLSCert != "" {
			cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		done := make(chan error, 1)
		go func() {
			var err error
			if server.TLSConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		logger.Info("gateway listening",
			slog.Int("port", cfg.Port),
			slog.String("upstream", up.BaseURL()),
			slog.String("ledger", cfg.Ledger.Backend),
			slog.Bool("secure_cookies", cfg.Cookies.Secure))

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	f := serverCmd.Flags()
	f.IntP("port", "p", 3000, "Port to listen on")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("tls-cert", "", "Path to TLS certificate file")
	f.String("tls-key", "", "Path to TLS key file")
	f.String("upstream", upstream.DefaultBaseURL, "Fleet backend base URL (env "+config.UpstreamEnv+")")
	f.Duration("upstream-timeout", 30*time.Second, "Timeout for each upstream call")
	f.Bool("secure-cookies", false, "Mark session cookies Secure")
	f.String("ledger", config.LedgerMemory, "Session ledger backend (memory, bbolt, redis, postgres)")
	f.String("data-dir", "./data", "Directory for the bbolt ledger")
	f.String("redis-url", "", "Redis URL for the redis ledger")
	f.String("postgres-url", "", "PostgreSQL DSN for the postgres ledger")
	f.StringSlice("trusted-proxies", nil, "CIDRs whose X-Forwarded-For is trusted for rate limiting")
	f.Duration("refresh-margin", api.DefaultRefreshMargin, "Remaining lifetime below which a session should refresh")
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// openLedgerStore returns the configured ledger store and its closer.
func openLedgerStore(ctx context.Context, cfg *config.Config) (session.Store, func() error, error) {
	switch cfg.Ledger.Backend {
	case config.LedgerBbolt:
		if err := os.MkdirAll(cfg.Ledger.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		s, err := bboltstore.NewStoreFromFile(filepath.Join(cfg.Ledger.DataDir, ledgerFile), &bolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session ledger: %w", err)
		}
		return s, s.Close, nil
	case config.LedgerRedis:
		s, err := redisstore.NewStoreFromURL(ctx, cfg.Ledger.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect session ledger: %w", err)
		}
		return s, s.Close, nil
	case config.LedgerPostgres:
		s, err := pgstore.NewStoreFromDSN(ctx, cfg.Ledger.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect session ledger: %w", err)
		}
		return s, s.Close, nil
	default:
		return session.NewMemoryStore(), func() error { return nil }, nil
	}
}

const ledgerFile = "sessions.db"
