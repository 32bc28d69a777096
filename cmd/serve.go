package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"phoenixgate/internal/breaker"
	"phoenixgate/internal/config"
	"phoenixgate/internal/gateway"
	"phoenixgate/internal/health"
	"phoenixgate/internal/intent"
	"phoenixgate/internal/persona"
	"phoenixgate/internal/provider/factory"
	"phoenixgate/internal/retry"
	"phoenixgate/internal/server"
)

const serveUsage = `Usage:
  phoenixgate serve --config <path> [--port <port>]

Flags:
  --config string   Path to YAML configuration file (required)
  --port   int      Override server port from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	if cfgPath == "" {
		return errors.New("serve command requires --config <path>")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	pl, err := factory.BuildPool(cfg, breaker.WithOnStateChange(observeBreaker))
	if err != nil {
		return err
	}

	dispatcher := gateway.New(
		pl,
		intent.NewClassifier(cfg.Classifier.ConfidenceThreshold),
		persona.NewRegistry(cfg.Personas),
		retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay.Std(), cfg.Retry.MaxDelay.Std()),
		nil,
	)

	var monitor *health.Monitor
	if cfg.Health.Enabled {
		monitor = health.NewMonitor(pl, cfg.Health.Interval.Std(), cfg.Health.HistorySize, nil)
		monitor.Start(ctx)
		defer monitor.Stop()
	}

	srv, err := server.New(cfg, dispatcher, pl, monitor)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
