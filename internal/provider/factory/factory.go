// Package factory constructs the provider pool from configuration.
package factory

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"phoenixgate/internal/breaker"
	"phoenixgate/internal/config"
	"phoenixgate/internal/pool"
	"phoenixgate/internal/provider"
	anthropicProvider "phoenixgate/internal/provider/anthropic"
	ollamaProvider "phoenixgate/internal/provider/ollama"
	openaiProvider "phoenixgate/internal/provider/openai"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// BuildPool constructs every configured provider, wraps each in its own
// circuit breaker and assembles the priority-ordered pool. The breaker
// options (clock, state-change hook) apply to all breakers.
func BuildPool(cfg config.Config, breakerOpts ...breaker.Option) (*pool.Pool, error) {
	breakerCfg := breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown.Std(),
		MaxCooldown:      cfg.Breaker.MaxCooldown.Std(),
		CooldownGrowth:   cfg.Breaker.CooldownGrowth,
	}

	entries := make([]*pool.Entry, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := newProvider(pc)
		if err != nil {
			return nil, fmt.Errorf("initialise provider %s: %w", pc.Name, err)
		}
		entries = append(entries, &pool.Entry{
			Provider: p,
			Breaker:  breaker.New(pc.Name, breakerCfg, breakerOpts...),
			Timeout:  pc.Timeout.Std(),
		})
	}

	return pool.New(entries)
}

func newProvider(pc config.ProviderConfig) (provider.Provider, error) {
	switch pc.Type {
	case config.TypeOllama:
		return ollamaProvider.New(pc, newHTTPClient(pc.Timeout.Std()))
	case config.TypeOpenAI:
		return openaiProvider.New(pc)
	case config.TypeAnthropic:
		return anthropicProvider.New(pc, newHTTPClient(pc.Timeout.Std()))
	default:
		return nil, fmt.Errorf("unsupported provider type %q", pc.Type)
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
