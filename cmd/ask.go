package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"phoenixgate/internal/breaker"
	"phoenixgate/internal/config"
	"phoenixgate/internal/gateway"
	"phoenixgate/internal/intent"
	"phoenixgate/internal/persona"
	"phoenixgate/internal/provider/factory"
	"phoenixgate/internal/retry"
)

const askUsage = `Usage:
  phoenixgate ask --config <path> [--timeout <duration>] "your request"

Flags:
  --config  string    Path to YAML configuration file (required)
  --timeout duration  Deadline for the whole dispatch (default 2m)`

func ask(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, askUsage)
	}

	var cfgPath string
	var timeout time.Duration
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.DurationVar(&timeout, "timeout", 2*time.Minute, "deadline for the whole dispatch")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse ask flags: %w", err)
	}

	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if cfgPath == "" {
		return errors.New("ask command requires --config <path>")
	}
	if text == "" {
		return errors.New("ask command requires a request text")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
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

	result, err := dispatcher.Handle(ctx, text, timeout)
	if err != nil {
		return err
	}

	fmt.Printf("[%s via %s]\n%s\n", result.Persona, result.Provider, result.Content)
	return nil
}
