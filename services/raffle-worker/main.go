package raffleworker

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"raffleanchor/crypto"
	"raffleanchor/observability"
	"raffleanchor/observability/logging"
	telemetry "raffleanchor/observability/otel"
	rpcanchor "raffleanchor/rpc/anchor"
)

// Main runs the raffle worker. newPassphrase builds the keystore passphrase
// source for the configured environment variable.
func Main(newPassphrase func(envVar string) PassphraseSource) error {
	var cfgPath, envFile string
	var once bool
	flag.StringVar(&cfgPath, "config", "./raffle-worker.yaml", "path to the worker configuration")
	flag.StringVar(&envFile, "env-file", "", "optional .env file loaded before configuration")
	flag.BoolVar(&once, "once", false, "run a single cycle and exit")
	flag.Parse()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	env := cfg.Environment
	if value := strings.TrimSpace(os.Getenv("RAFFLE_ENV")); value != "" {
		env = value
	}
	logger := logging.SetupWithOptions("raffle-worker", env, logging.Options{Level: logging.ParseLevel(cfg.LogLevel)})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("raffle-worker", env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	var source PassphraseSource
	if newPassphrase != nil {
		source = newPassphrase(cfg.Signer.PassphraseEnv)
	}
	key, err := LoadSigner(cfg.Signer, source)
	if err != nil {
		return err
	}
	prover, err := NewProver(cfg.Proof, key)
	if err != nil {
		return fmt.Errorf("proof: %w", err)
	}
	schedule, err := NewSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	store, err := NewStore(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("open worker store: %w", err)
	}
	defer store.Close()

	client := rpcanchor.NewClient(rpcanchor.Config{
		URL:        cfg.Node.URL,
		AdminToken: cfg.Node.AdminToken,
		Timeout:    cfg.Node.Timeout.Duration,
	})
	worker, err := NewWorker(client, key, prover, store, schedule,
		WithLogger(logger),
		WithMetrics(observability.Worker()),
		WithDryRun(cfg.DryRun),
	)
	if err != nil {
		return err
	}
	logger.Info("raffle worker starting",
		"node", cfg.Node.URL,
		"attestor", key.PubKey().Address(crypto.AttestorPrefix).String(),
		"proof_scheme", prover.Scheme(),
		"schedule", cfg.Schedule,
		"dry_run", cfg.DryRun,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if once {
		result, err := worker.RunOnce(ctx)
		if err != nil {
			return err
		}
		logger.Info("cycle complete", "cycle", result.ID, "outcome", string(result.Outcome))
		return nil
	}

	if cfg.Metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: cfg.Metrics, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	return worker.Run(ctx, cfg.PollInterval.Duration)
}
