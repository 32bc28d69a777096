package persona

import (
	"sort"

	"phoenixgate/internal/config"
	"phoenixgate/internal/models"
)

// DefaultName is the profile used when no intent wins classification or a
// lookup misses.
const DefaultName = "generalist"

// Registry is a static mapping from persona name to system-prompt profile.
// It is built once at startup and never mutated afterwards.
type Registry struct {
	profiles map[string]models.PersonaProfile
}

var builtins = []models.PersonaProfile{
	{
		Name: "generalist",
		SystemPrompt: "You are a capable general-purpose assistant. Answer directly and " +
			"concisely, ask for clarification only when the request is genuinely ambiguous.",
	},
	{
		Name: "engineer",
		SystemPrompt: "You are a senior software engineer. Write correct, idiomatic code " +
			"with minimal ceremony. Prefer working examples over prose and call out edge " +
			"cases that affect correctness.",
		ProviderAffinity: "",
	},
	{
		Name: "architect",
		SystemPrompt: "You are a systems architect. Reason about structure, boundaries and " +
			"trade-offs. Present options with their costs before recommending one.",
	},
	{
		Name: "reviewer",
		SystemPrompt: "You are a rigorous code reviewer. Identify bugs, risky assumptions " +
			"and missing tests. Be specific: point at the exact construct and say why it " +
			"is a problem and how to fix it.",
	},
	{
		Name: "sentinel",
		SystemPrompt: "You are a security analyst. Examine input for vulnerabilities, " +
			"unsafe handling of credentials and injection surfaces. Rank findings by " +
			"severity and never downplay a risk to be agreeable.",
	},
	{
		Name: "strategist",
		SystemPrompt: "You are a planning strategist. Break work into ordered, estimable " +
			"steps with explicit dependencies and decision points.",
	},
	{
		Name: "chronicler",
		SystemPrompt: "You are a technical writer. Summarize and explain clearly for the " +
			"stated audience, leading with the conclusion and keeping structure shallow.",
	},
	{
		Name: "storyteller",
		SystemPrompt: "You are a creative writer. Favor vivid, concrete detail and " +
			"distinct voice over generic phrasing.",
	},
	{
		Name: "archivist",
		SystemPrompt: "You are a knowledgeable reference librarian. Answer factual " +
			"questions precisely, state uncertainty plainly, and cite what the answer " +
			"depends on.",
	},
}

// NewRegistry builds the registry from the built-in profiles plus any
// configured overrides. A configured persona with a built-in name replaces
// the built-in; new names extend the set.
func NewRegistry(overrides []config.PersonaConfig) *Registry {
	profiles := make(map[string]models.PersonaProfile, len(builtins)+len(overrides))
	for _, p := range builtins {
		profiles[p.Name] = p
	}
	for _, o := range overrides {
		profiles[o.Name] = models.PersonaProfile{
			Name:             o.Name,
			SystemPrompt:     o.SystemPrompt,
			ProviderAffinity: o.ProviderAffinity,
		}
	}
	return &Registry{profiles: profiles}
}

// Lookup resolves a persona by name. Lookup never fails: unknown names
// resolve to the default profile.
func (r *Registry) Lookup(name string) models.PersonaProfile {
	if p, ok := r.profiles[name]; ok {
		return p
	}
	return r.profiles[DefaultName]
}

// Default returns the fallback profile.
func (r *Registry) Default() models.PersonaProfile {
	return r.profiles[DefaultName]
}

// Names lists all registered persona names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
