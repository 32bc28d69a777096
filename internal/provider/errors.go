package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"phoenixgate/internal/models"
)

// ErrCircuitOpen indicates a provider was skipped without an attempt
// because its circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ErrorKind classifies a provider failure for retry and breaker decisions.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindRateLimited ErrorKind = "rate_limited"
	KindTransient   ErrorKind = "transient"
	KindAuth        ErrorKind = "auth"
	KindPermanent   ErrorKind = "permanent"
)

// Retryable reports whether failures of this kind are worth retrying
// against the same provider.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindTransient:
		return true
	default:
		return false
	}
}

// Outcome maps the error kind to its attempt outcome label.
func (k ErrorKind) Outcome() models.Outcome {
	switch k {
	case KindTimeout:
		return models.OutcomeTimeout
	case KindRateLimited:
		return models.OutcomeRateLimited
	case KindTransient:
		return models.OutcomeTransient
	case KindAuth:
		return models.OutcomeAuth
	default:
		return models.OutcomePermanent
	}
}

// Error is a classified provider failure.
type Error struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a classified provider failure.
func NewError(providerName string, kind ErrorKind, err error) *Error {
	return &Error{Provider: providerName, Kind: kind, Err: err}
}

// KindOf extracts the error kind from err. Unclassified errors are treated
// as transient so the chain still gets a bounded chance to recover.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindTransient
}

// ClassifyStatus maps an upstream HTTP status to an error kind.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

// ClassifyTransport maps a transport-level failure (no HTTP response) to an
// error kind.
func ClassifyTransport(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindTransient
}

// ExhaustedError is the terminal failure returned when every provider in
// the pool was unavailable or ran out of retries. It aggregates the last
// error observed per provider, in pool order.
type ExhaustedError struct {
	Last map[string]error
	Seq  []string
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Seq))
	for _, name := range e.Seq {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Last[name]))
	}
	return "all providers exhausted: " + strings.Join(parts, "; ")
}

// Add records the last error for a provider, keeping first-seen order.
func (e *ExhaustedError) Add(name string, err error) {
	if e.Last == nil {
		e.Last = make(map[string]error)
	}
	if _, seen := e.Last[name]; !seen {
		e.Seq = append(e.Seq, name)
	}
	e.Last[name] = err
}
