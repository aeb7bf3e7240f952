package anchord

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"raffleanchor/config"
	"raffleanchor/observability/logging"
	telemetry "raffleanchor/observability/otel"
	"raffleanchor/services/anchord/middleware"
	"raffleanchor/services/anchord/server"
	"raffleanchor/storage"
)

// Main initialises and runs the anchor node.
func Main() error {
	var cfgPath, envFile string
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to the node configuration")
	flag.StringVar(&envFile, "env-file", "", "optional .env file loaded before configuration")
	flag.Parse()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env := cfg.Environment
	if value := strings.TrimSpace(os.Getenv("RAFFLE_ENV")); value != "" {
		env = value
	}
	logOpts := logging.Options{Level: logging.ParseLevel(cfg.Log.Level)}
	if cfg.Log.File != "" {
		logOpts.File = &logging.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		}
	}
	logger := logging.SetupWithOptions("anchord", env, logOpts)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("anchord", env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "anchor"))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	node, err := NewNode(cfg, db, logger)
	if err != nil {
		return fmt.Errorf("build node: %w", err)
	}

	var auth *middleware.Authenticator
	if secret := cfg.JWTSecretValue(); secret != "" {
		auth, err = middleware.NewAuthenticator(middleware.AuthConfig{
			HMACSecret: secret,
			Issuer:     cfg.Admin.Issuer,
			Audience:   cfg.Admin.Audience,
		}, logger)
		if err != nil {
			return fmt.Errorf("admin auth: %w", err)
		}
	} else {
		logger.Warn("admin api disabled: no JWT secret configured")
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Auth: auth,
	}, node.Backend(), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}
