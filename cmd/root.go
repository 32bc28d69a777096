package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"phoenixgate/internal/breaker"
	"phoenixgate/internal/metrics"
)

const usage = `phoenixgate is a resilient multi-provider LLM gateway.

Usage:
  phoenixgate serve [flags]
  phoenixgate ask [flags] "your request"

Commands:
  serve    Start the HTTP server
  ask      Dispatch a single request and print the result

Flags:
  -h, --help  Show this help message`

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return printUsage()
	}

	switch args[0] {
	case "serve":
		return serve(ctx, args[1:])
	case "ask":
		return ask(ctx, args[1:])
	case "help", "-h", "--help":
		return printUsage()
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
}

func printUsage() error {
	fmt.Println(strings.TrimSpace(usage))
	return nil
}

// observeBreaker is the state-change hook wired into every breaker: one
// structured event and a gauge update per transition.
func observeBreaker(name string, from, to breaker.State) {
	slog.Warn("breaker transition",
		"provider", name,
		"from", from.String(),
		"to", to.String(),
	)
	metrics.BreakerState.WithLabelValues(name).Set(float64(to))
	metrics.BreakerTransitions.WithLabelValues(name, to.String()).Inc()
}
