package provider

import (
	"context"

	"phoenixgate/internal/models"
)

// Kind places a provider in the fallback chain.
type Kind string

const (
	KindLocal         Kind = "local"
	KindCloudPrimary  Kind = "cloud-primary"
	KindCloudFallback Kind = "cloud-fallback"
)

// Rank returns the fixed priority of a kind; lower is tried first. Local
// always ranks first when configured.
func (k Kind) Rank() int {
	switch k {
	case KindLocal:
		return 0
	case KindCloudPrimary:
		return 1
	case KindCloudFallback:
		return 2
	default:
		return 3
	}
}

// Valid reports whether the kind is one of the declared chain positions.
func (k Kind) Valid() bool {
	return k == KindLocal || k == KindCloudPrimary || k == KindCloudFallback
}

// Provider defines the behaviour required of one completion backend.
// Implementations must honour ctx cancellation and classify failures
// through the Error taxonomy in this package.
type Provider interface {
	Name() string
	Kind() Kind
	Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error)
	Ping(ctx context.Context) error
}
