// Package gateway orchestrates a request through classification, persona
// selection and the resilient provider chain.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"phoenixgate/internal/intent"
	"phoenixgate/internal/metrics"
	"phoenixgate/internal/models"
	"phoenixgate/internal/persona"
	"phoenixgate/internal/pool"
	"phoenixgate/internal/provider"
	"phoenixgate/internal/retry"
)

// ErrDeadlineExceeded terminates a dispatch whose request deadline elapsed
// before any provider produced a completion.
var ErrDeadlineExceeded = errors.New("request deadline exceeded")

// Result is a successful dispatch with provenance: which persona and
// provider served the request.
type Result struct {
	RequestID string
	Content   string
	Provider  string
	Persona   string
	Intent    models.IntentResult
	Usage     models.Usage
	Attempts  int
}

// Dispatcher routes requests through the provider pool under the retry
// policy, reporting every outcome to the owning circuit breaker. It holds
// explicit references to its collaborators; there is no ambient state.
type Dispatcher struct {
	pool       *pool.Pool
	classifier *intent.Classifier
	personas   *persona.Registry
	policy     *retry.Policy
	logger     *slog.Logger
}

// New constructs a dispatcher.
func New(p *pool.Pool, c *intent.Classifier, reg *persona.Registry, policy *retry.Policy, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		pool:       p,
		classifier: c,
		personas:   reg,
		policy:     policy,
		logger:     logger,
	}
}

// Handle is the single inbound entrypoint: classify the text, pick the
// persona and dispatch. A zero deadline means only the caller's ctx bounds
// the request.
func (d *Dispatcher) Handle(ctx context.Context, text string, deadline time.Duration) (*Result, error) {
	var absolute time.Time
	if deadline > 0 {
		absolute = time.Now().Add(deadline)
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, absolute)
		defer cancel()
	}

	rc := models.NewRequestContext(text, absolute)
	return d.Dispatch(ctx, rc)
}

// Dispatch runs the request through the pool in priority order and returns
// the first success, or the aggregated failure once every provider is
// unavailable or exhausted.
func (d *Dispatcher) Dispatch(ctx context.Context, rc *models.RequestContext) (*Result, error) {
	rc.Intent = d.classifier.Classify(rc.Input)
	rc.Persona = d.personas.Lookup(rc.Intent.Persona)

	d.logger.Debug("classified request",
		"request_id", rc.ID,
		"intent", rc.Intent.Intent,
		"confidence", rc.Intent.Confidence,
		"persona", rc.Persona.Name,
	)

	agg := &provider.ExhaustedError{}
	for _, entry := range d.candidates(rc.Persona) {
		name := entry.Provider.Name()

		if err := ctx.Err(); err != nil {
			return nil, d.terminal(rc, err)
		}

		resp, err := d.attemptProvider(ctx, rc, entry)
		if err == nil {
			result := &Result{
				RequestID: rc.ID,
				Content:   resp.Content,
				Provider:  name,
				Persona:   rc.Persona.Name,
				Intent:    rc.Intent,
				Usage:     resp.Usage,
				Attempts:  len(rc.Attempts),
			}
			metrics.DispatchCount.WithLabelValues(name, rc.Persona.Name, "success").Inc()
			return result, nil
		}
		if errors.Is(err, ErrDeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, d.terminal(rc, err)
		}
		agg.Add(name, err)
	}

	metrics.DispatchCount.WithLabelValues("", rc.Persona.Name, "exhausted").Inc()
	d.logger.Warn("all providers exhausted",
		"request_id", rc.ID,
		"providers", len(agg.Seq),
	)
	return nil, agg
}

// candidates returns the pool in priority order, moving the persona's
// affine provider to the front when it exists.
func (d *Dispatcher) candidates(p models.PersonaProfile) []*pool.Entry {
	entries := d.pool.Entries()
	if p.ProviderAffinity == "" {
		return entries
	}
	affine, ok := d.pool.Lookup(p.ProviderAffinity)
	if !ok {
		return entries
	}

	ordered := make([]*pool.Entry, 0, len(entries))
	ordered = append(ordered, affine)
	for _, e := range entries {
		if e != affine {
			ordered = append(ordered, e)
		}
	}
	return ordered
}

// attemptProvider runs the retry loop against one provider. Every attempt,
// successful or not, reports its outcome to the provider's breaker; the
// breaker tripping open mid-request ends the loop so the dispatcher can
// move to the next provider.
func (d *Dispatcher) attemptProvider(ctx context.Context, rc *models.RequestContext, entry *pool.Entry) (*models.CompletionResponse, error) {
	name := entry.Provider.Name()

	for attempt := 0; ; attempt++ {
		if !entry.Breaker.Allow() {
			d.recordAttempt(rc, models.Attempt{
				Provider: name,
				Index:    attempt,
				Start:    time.Now(),
				Outcome:  models.OutcomeCircuitOpen,
				Err:      provider.ErrCircuitOpen,
			})
			return nil, fmt.Errorf("provider %s skipped: %w", name, provider.ErrCircuitOpen)
		}

		resp, err := d.call(ctx, rc, entry, attempt)
		if err == nil {
			return resp, nil
		}

		if ctx.Err() != nil {
			// The request deadline ended the attempt; do not start another
			// against any provider.
			return nil, fmt.Errorf("%w: %v", ErrDeadlineExceeded, err)
		}

		if !d.policy.ShouldRetry(err, attempt) {
			return nil, err
		}
		if werr := retry.Wait(ctx, d.policy.Delay(attempt)); werr != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeadlineExceeded, werr)
		}
	}
}

// call performs one attempt under the provider's declared timeout and
// reports the outcome to the breaker.
func (d *Dispatcher) call(ctx context.Context, rc *models.RequestContext, entry *pool.Entry, attempt int) (*models.CompletionResponse, error) {
	name := entry.Provider.Name()

	attemptCtx := ctx
	if entry.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, entry.Timeout)
		defer cancel()
	}

	req := &models.CompletionRequest{
		Prompt:       rc.Input,
		SystemPrompt: rc.Persona.SystemPrompt,
	}

	start := time.Now()
	resp, err := entry.Provider.Complete(attemptCtx, req)
	latency := time.Since(start)

	if err == nil {
		entry.Breaker.ReportSuccess()
		d.recordAttempt(rc, models.Attempt{
			Provider: name,
			Index:    attempt,
			Start:    start,
			Outcome:  models.OutcomeSuccess,
			Latency:  latency,
		})
		return resp, nil
	}

	kind := provider.KindOf(err)
	// A cancelled in-flight call counts as a timeout for breaker purposes.
	if attemptCtx.Err() != nil && kind.Retryable() {
		kind = provider.KindTimeout
	}
	fatal := kind == provider.KindAuth || kind == provider.KindPermanent
	entry.Breaker.ReportFailure(fatal)

	d.recordAttempt(rc, models.Attempt{
		Provider: name,
		Index:    attempt,
		Start:    start,
		Outcome:  kind.Outcome(),
		Latency:  latency,
		Err:      err,
	})
	return nil, err
}

// recordAttempt appends to the request history and emits the per-attempt
// observability event.
func (d *Dispatcher) recordAttempt(rc *models.RequestContext, a models.Attempt) {
	rc.Record(a)

	metrics.AttemptCount.WithLabelValues(a.Provider, string(a.Outcome)).Inc()
	if a.Outcome != models.OutcomeCircuitOpen {
		metrics.AttemptLatency.WithLabelValues(a.Provider).Observe(a.Latency.Seconds())
	}

	attrs := []any{
		"request_id", rc.ID,
		"provider", a.Provider,
		"attempt", a.Index,
		"outcome", string(a.Outcome),
		"latency_ms", a.Latency.Milliseconds(),
	}
	if a.Err != nil {
		attrs = append(attrs, "error", a.Err.Error())
		d.logger.Warn("provider attempt", attrs...)
		return
	}
	d.logger.Info("provider attempt", attrs...)
}

func (d *Dispatcher) terminal(rc *models.RequestContext, err error) error {
	metrics.DispatchCount.WithLabelValues("", rc.Persona.Name, "deadline").Inc()
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrDeadlineExceeded, err)
	}
	if errors.Is(err, ErrDeadlineExceeded) {
		return err
	}
	return fmt.Errorf("dispatch aborted: %w", err)
}
