package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phoenixgate/internal/breaker"
	"phoenixgate/internal/config"
	"phoenixgate/internal/intent"
	"phoenixgate/internal/models"
	"phoenixgate/internal/persona"
	"phoenixgate/internal/pool"
	"phoenixgate/internal/provider"
	"phoenixgate/internal/retry"
)

// stubProvider returns scripted errors per call, then succeeds.
type stubProvider struct {
	name    string
	kind    provider.Kind
	content string
	block   bool

	mu     sync.Mutex
	script []error
	calls  int
}

func (s *stubProvider) Name() string        { return s.name }
func (s *stubProvider) Kind() provider.Kind { return s.kind }

func (s *stubProvider) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return nil, provider.NewError(s.name, provider.KindTimeout, ctx.Err())
	}
	if idx < len(s.script) && s.script[idx] != nil {
		return nil, s.script[idx]
	}
	content := s.content
	if content == "" {
		content = "response from " + s.name
	}
	return &models.CompletionResponse{
		Content: content,
		Model:   "stub-model",
		Usage:   models.Usage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8},
	}, nil
}

func (s *stubProvider) Ping(ctx context.Context) error { return nil }

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func timeoutErr(name string) error {
	return provider.NewError(name, provider.KindTimeout, errors.New("deadline exceeded"))
}

func authErr(name string) error {
	return provider.NewError(name, provider.KindAuth, errors.New("invalid api key"))
}

func transientErr(name string) error {
	return provider.NewError(name, provider.KindTransient, errors.New("upstream 503"))
}

func newTestPool(t *testing.T, providers ...*stubProvider) *pool.Pool {
	t.Helper()
	cfg := breaker.Config{
		FailureThreshold: 3,
		Cooldown:         50 * time.Millisecond,
		MaxCooldown:      time.Second,
		CooldownGrowth:   2,
	}
	entries := make([]*pool.Entry, 0, len(providers))
	for _, p := range providers {
		entries = append(entries, &pool.Entry{
			Provider: p,
			Breaker:  breaker.New(p.name, cfg),
			Timeout:  time.Second,
		})
	}
	pl, err := pool.New(entries)
	require.NoError(t, err)
	return pl
}

func newTestDispatcher(pl *pool.Pool, overrides ...config.PersonaConfig) *Dispatcher {
	return New(
		pl,
		intent.NewClassifier(0.6),
		persona.NewRegistry(overrides),
		retry.NewPolicy(3, time.Millisecond, 5*time.Millisecond, retry.WithJitter(func() float64 { return 0.5 })),
		nil,
	)
}

func TestDispatchSuccessOnFirstProvider(t *testing.T) {
	local := &stubProvider{name: "local", kind: provider.KindLocal}
	cloud := &stubProvider{name: "cloud", kind: provider.KindCloudPrimary}
	d := newTestDispatcher(newTestPool(t, local, cloud))

	result, err := d.Handle(context.Background(), "write a function to reverse a string", 0)
	require.NoError(t, err)

	assert.Equal(t, "local", result.Provider)
	assert.Equal(t, "engineer", result.Persona)
	assert.Equal(t, intent.IntentCode, result.Intent.Intent)
	assert.Equal(t, 0, cloud.callCount())
}

func TestDispatchSkipsOpenBreakerWithoutCalling(t *testing.T) {
	local := &stubProvider{name: "local", kind: provider.KindLocal}
	cloud := &stubProvider{name: "cloud", kind: provider.KindCloudPrimary}
	pl := newTestPool(t, local, cloud)

	entry, _ := pl.Lookup("local")
	entry.Breaker.ReportFailure(true)
	require.Equal(t, breaker.Open, entry.Breaker.State())

	d := newTestDispatcher(pl)
	result, err := d.Handle(context.Background(), "hello there", 0)
	require.NoError(t, err)

	assert.Equal(t, "cloud", result.Provider)
	assert.Equal(t, 0, local.callCount(), "open breaker must short-circuit without a network call")
}

func TestDispatchAuthErrorFailsOverWithoutRetry(t *testing.T) {
	primary := &stubProvider{name: "cloud-a", kind: provider.KindCloudPrimary, script: []error{authErr("cloud-a")}}
	fallback := &stubProvider{name: "cloud-b", kind: provider.KindCloudFallback}
	pl := newTestPool(t, primary, fallback)

	d := newTestDispatcher(pl)
	result, err := d.Handle(context.Background(), "hello", 0)
	require.NoError(t, err)

	assert.Equal(t, "cloud-b", result.Provider)
	assert.Equal(t, 1, primary.callCount(), "auth errors must never be retried")

	entry, _ := pl.Lookup("cloud-a")
	assert.Equal(t, breaker.Open, entry.Breaker.State(), "auth error trips the breaker immediately")
}

func TestDispatchRetriesTimeoutsThenSucceeds(t *testing.T) {
	local := &stubProvider{
		name:   "local",
		kind:   provider.KindLocal,
		script: []error{timeoutErr("local"), timeoutErr("local")},
	}
	cloud := &stubProvider{name: "cloud", kind: provider.KindCloudPrimary}
	pl := newTestPool(t, local, cloud)

	d := newTestDispatcher(pl)
	result, err := d.Handle(context.Background(), "hello", 0)
	require.NoError(t, err)

	assert.Equal(t, "local", result.Provider)
	assert.Equal(t, 3, local.callCount())
	assert.Equal(t, 0, cloud.callCount())

	// Success in closed state resets the consecutive-failure counter.
	entry, _ := pl.Lookup("local")
	assert.Equal(t, breaker.Closed, entry.Breaker.State())
	assert.Equal(t, 0, entry.Breaker.Failures())
}

func TestDispatchExhaustsRetriesThenMovesOn(t *testing.T) {
	local := &stubProvider{
		name:   "local",
		kind:   provider.KindLocal,
		script: []error{transientErr("local"), transientErr("local"), transientErr("local")},
	}
	cloud := &stubProvider{name: "cloud", kind: provider.KindCloudPrimary}
	pl := newTestPool(t, local, cloud)

	d := newTestDispatcher(pl)
	result, err := d.Handle(context.Background(), "hello", 0)
	require.NoError(t, err)

	assert.Equal(t, "cloud", result.Provider)
	assert.Equal(t, 3, local.callCount(), "retry cap bounds attempts per provider")

	// Three consecutive failures reached the threshold mid-request.
	entry, _ := pl.Lookup("local")
	assert.Equal(t, breaker.Open, entry.Breaker.State())
}

func TestDispatchAllProvidersExhausted(t *testing.T) {
	primary := &stubProvider{
		name:   "cloud-a",
		kind:   provider.KindCloudPrimary,
		script: []error{authErr("cloud-a")},
	}
	fallback := &stubProvider{
		name:   "cloud-b",
		kind:   provider.KindCloudFallback,
		script: []error{authErr("cloud-b")},
	}
	pl := newTestPool(t, primary, fallback)

	d := newTestDispatcher(pl)
	_, err := d.Handle(context.Background(), "hello", 0)
	require.Error(t, err)

	var exhausted *provider.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, []string{"cloud-a", "cloud-b"}, exhausted.Seq)
	assert.Len(t, exhausted.Last, 2)
}

func TestDispatchAllBreakersOpen(t *testing.T) {
	local := &stubProvider{name: "local", kind: provider.KindLocal}
	cloud := &stubProvider{name: "cloud", kind: provider.KindCloudPrimary}
	pl := newTestPool(t, local, cloud)

	for _, e := range pl.Entries() {
		e.Breaker.ReportFailure(true)
	}

	d := newTestDispatcher(pl)
	_, err := d.Handle(context.Background(), "hello", 0)
	require.Error(t, err)

	var exhausted *provider.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.ErrorIs(t, exhausted.Last["local"], provider.ErrCircuitOpen)
	assert.ErrorIs(t, exhausted.Last["cloud"], provider.ErrCircuitOpen)
	assert.Equal(t, 0, local.callCount())
	assert.Equal(t, 0, cloud.callCount())
}

func TestDispatchDeadlineStopsFurtherAttempts(t *testing.T) {
	local := &stubProvider{name: "local", kind: provider.KindLocal, block: true}
	cloud := &stubProvider{name: "cloud", kind: provider.KindCloudPrimary}
	pl := newTestPool(t, local, cloud)

	d := newTestDispatcher(pl)
	start := time.Now()
	_, err := d.Handle(context.Background(), "hello", 30*time.Millisecond)
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrDeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, cloud.callCount(), "no new attempt may start after the deadline")
}

func TestDispatchCallerCancellation(t *testing.T) {
	local := &stubProvider{name: "local", kind: provider.KindLocal, block: true}
	pl := newTestPool(t, local)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	d := newTestDispatcher(pl)
	_, err := d.Handle(ctx, "hello", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeadlineExceeded)
}

func TestDispatchHonoursPersonaAffinity(t *testing.T) {
	local := &stubProvider{name: "local", kind: provider.KindLocal}
	cloud := &stubProvider{name: "cloud", kind: provider.KindCloudPrimary}
	pl := newTestPool(t, local, cloud)

	d := newTestDispatcher(pl, config.PersonaConfig{
		Name:             "generalist",
		SystemPrompt:     "you are a helpful assistant",
		ProviderAffinity: "cloud",
	})

	result, err := d.Handle(context.Background(), "hello there", 0)
	require.NoError(t, err)

	assert.Equal(t, "cloud", result.Provider)
	assert.Equal(t, 0, local.callCount())
}

func TestDispatchEmptyInputUsesDefaultPersona(t *testing.T) {
	local := &stubProvider{name: "local", kind: provider.KindLocal}
	pl := newTestPool(t, local)

	d := newTestDispatcher(pl)
	result, err := d.Handle(context.Background(), " ", 0)
	require.NoError(t, err)

	assert.Equal(t, persona.DefaultName, result.Persona)
	assert.Equal(t, intent.IntentGeneral, result.Intent.Intent)
	assert.Zero(t, result.Intent.Confidence)
	assert.Equal(t, "local", result.Provider, "classification fallback must not skip any provider")
}

func TestDispatchRecordsAttemptHistory(t *testing.T) {
	local := &stubProvider{
		name:   "local",
		kind:   provider.KindLocal,
		script: []error{timeoutErr("local")},
	}
	pl := newTestPool(t, local)
	d := newTestDispatcher(pl)

	rc := models.NewRequestContext("hello", time.Time{})
	_, err := d.Dispatch(context.Background(), rc)
	require.NoError(t, err)

	require.Len(t, rc.Attempts, 2)
	assert.Equal(t, models.OutcomeTimeout, rc.Attempts[0].Outcome)
	assert.Equal(t, models.OutcomeSuccess, rc.Attempts[1].Outcome)
	assert.Equal(t, 0, rc.Attempts[0].Index)
	assert.Equal(t, 1, rc.Attempts[1].Index)
}
