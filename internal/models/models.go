package models

import (
	"time"

	"github.com/google/uuid"
)

// CompletionRequest is the canonical payload sent to a provider.
type CompletionRequest struct {
	Prompt       string
	SystemPrompt string
	Model        string
	MaxTokens    int
	Temperature  float64
	Options      map[string]any
}

// CompletionResponse captures a provider completion in the unified schema.
type CompletionResponse struct {
	Content      string
	Model        string
	Usage        Usage
	FinishReason string
	ID           string
}

// Usage records token accounting information.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Outcome classifies the terminal state of a single provider attempt.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeTransient   Outcome = "transient_error"
	OutcomeAuth        Outcome = "auth_error"
	OutcomePermanent   Outcome = "permanent_error"
	OutcomeCircuitOpen Outcome = "circuit_open"
)

// Attempt records one try against one provider within one request. Attempts
// are never persisted; they exist for the lifetime of the request and feed
// observability events.
type Attempt struct {
	Provider string
	Index    int
	Start    time.Time
	Outcome  Outcome
	Latency  time.Duration
	Err      error
}

// IntentResult is the output of classification: the winning intent label,
// a confidence in [0,1], the keywords that matched, and the persona the
// intent resolves to.
type IntentResult struct {
	Intent     string
	Confidence float64
	Matched    []string
	Persona    string
}

// PersonaProfile is read-only reference data describing one system-prompt
// profile. Many intents may map to the same profile.
type PersonaProfile struct {
	Name             string
	SystemPrompt     string
	ProviderAffinity string
}

// RequestContext is the unit of work flowing through the dispatcher. It is
// exclusively owned by the request that created it; only the dispatcher
// handling the request appends attempts.
type RequestContext struct {
	ID       string
	Input    string
	Intent   IntentResult
	Persona  PersonaProfile
	Deadline time.Time
	Attempts []Attempt
}

// NewRequestContext creates a request context with a fresh ID. A zero
// deadline means the caller imposed none.
func NewRequestContext(input string, deadline time.Time) *RequestContext {
	return &RequestContext{
		ID:       uuid.NewString(),
		Input:    input,
		Deadline: deadline,
	}
}

// Record appends an attempt to the request's ordered attempt history.
func (rc *RequestContext) Record(a Attempt) {
	rc.Attempts = append(rc.Attempts, a)
}
