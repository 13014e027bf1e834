package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/server"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/store"
	"github.com/keygate/keygate/internal/token"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the keygate API server",
		Long:  "Start the HTTP server that issues and verifies sessions and API credentials.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP listen port (overrides config)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP listen host (overrides config)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging, error detail in responses)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if dev {
		cfg.Server.Dev = true
	}

	logger := newLogger(cfg.Logging, cfg.Server.Dev)

	// 1. Open the credential store
	storeCfg := store.Config{
		Driver:  cfg.Store.Driver,
		DSN:     cfg.Store.DSN,
		DataDir: cfg.Store.DataDir,
	}
	if storeCfg.Driver == "" || storeCfg.Driver == "sqlite" {
		if storeCfg.DataDir == "" {
			storeCfg.DataDir = resolveDataDir()
		}
	}
	st, err := store.Open(storeCfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	logger.Info("store opened", "driver", storeCfg.Driver)

	// 2. Build the auth service
	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = viper.GetString("auth.jwt_secret")
	}
	if jwtSecret == "" {
		if cfg.Server.Dev {
			jwtSecret = "keygate-dev-secret-change-me"
			logger.Warn("auth.jwt_secret not set, using development default")
		} else {
			st.Close()
			return fmt.Errorf("auth.jwt_secret is required (set KEYGATE_AUTH_JWT_SECRET or keygate.yaml)")
		}
	}
	sessionTTL, err := cfg.Auth.SessionTTLDuration()
	if err != nil {
		st.Close()
		return err
	}
	hasher := token.NewArgon2Hasher(token.DefaultArgon2Params())
	authSvc := service.NewAuthService(st, hasher, service.Config{
		JWTSecret:       jwtSecret,
		SessionTTL:      sessionTTL,
		MaxKeysPerOwner: cfg.Auth.MaxKeysPerOwner,
	}, logger)

	// 3. Build the per-action rate governors
	limits, err := buildLimits(cfg.RateLimit, logger)
	if err != nil {
		authSvc.Close()
		st.Close()
		return err
	}

	// 4. Check for first-run (no users exist)
	hasUser, err := st.HasAnyUser(cmd_ctx())
	if err != nil {
		logger.Warn("failed to check for users", "error", err)
	}
	if !hasUser {
		logger.Warn("no user accounts found - run: keygate user create")
	}

	// 5. Build and start the HTTP server
	shutdownTimeout, err := cfg.Server.ShutdownTimeoutDuration()
	if err != nil {
		authSvc.Close()
		st.Close()
		return err
	}
	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: shutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
		EdgeRPM:         cfg.Server.EdgeRPM,
		Dev:             cfg.Server.Dev,
	}

	srv := server.New(srvCfg, st, authSvc, limits, logger)

	fmt.Printf("→ Keygate\n")
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:  http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()

	return srv.ListenAndServe()
}

// cmd_ctx returns a background context for CLI initialization.
func cmd_ctx() context.Context {
	return context.Background()
}

// loadConfig merges the YAML config file (if any) over built-in defaults.
func loadConfig() (*config.Config, error) {
	path := viper.ConfigFileUsed()
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// buildLimits constructs the per-action governors from configuration,
// either process-local or Redis-backed for multi-instance deployments.
func buildLimits(cfg config.RateLimitConfig, logger *slog.Logger) (*ratelimit.Limits, error) {
	budgets := make(map[string]ratelimit.Budget, len(cfg.Actions))
	for action, b := range cfg.Actions {
		window, err := b.WindowDuration()
		if err != nil {
			return nil, fmt.Errorf("rate limit action %q: %w", action, err)
		}
		budgets[action] = ratelimit.Budget{Limit: b.Limit, Window: window}
	}
	if _, ok := budgets[ratelimit.ActionGeneric]; !ok {
		budgets[ratelimit.ActionGeneric] = ratelimit.Budget{Limit: 120, Window: time.Minute}
	}

	switch cfg.Backend {
	case "", "memory":
		return ratelimit.NewMemoryLimits(budgets), nil
	case "redis":
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		logger.Info("rate governors using redis", "addr", addr)
		return ratelimit.NewRedisLimits(rdb, budgets), nil
	default:
		return nil, fmt.Errorf("unknown rate_limit.backend %q (want memory or redis)", cfg.Backend)
	}
}
