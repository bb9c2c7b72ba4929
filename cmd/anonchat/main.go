package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"anonchat/internal/app"
	"anonchat/internal/config"
	"anonchat/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run loads configuration (file > env > .env > defaults) and serves until
// ctx is cancelled.
func run(ctx context.Context, args []string, stderr io.Writer) error {
	flags := flag.NewFlagSet("anonchat", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", os.Getenv("ANONCHAT_CONFIG_FILE"), "path to a YAML config file")
	envPath := flags.String("env", ".env", "path to a .env file; missing is fine")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfigWithPrecedence(*configPath, *envPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	application, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create application", zap.Error(err))
		return err
	}

	logger.Info("starting anonchat",
		zap.String("addr", application.Addr()),
		zap.Bool("redis", cfg.RateLimit.RedisURL != ""),
		zap.Duration("session_ttl", cfg.Sessions.TTL),
	)
	return application.Run(ctx)
}
