package intent

import (
	"sort"
	"strings"
	"unicode"

	"phoenixgate/internal/models"
	"phoenixgate/internal/persona"
)

// Intent labels, most-specific first. The order doubles as the tie-break
// priority: when two intents score equally, the earlier one wins.
const (
	IntentSecurity     = "security"
	IntentReview       = "review"
	IntentArchitecture = "architecture"
	IntentCode         = "code"
	IntentPlan         = "plan"
	IntentSummarize    = "summarize"
	IntentCreative     = "creative"
	IntentAsk          = "ask"
	IntentGeneral      = "general"
)

// questionBoost is added to the ask score when the input contains a
// question mark.
const questionBoost = 0.2

type intentSpec struct {
	name     string
	persona  string
	keywords map[string]float64
}

// Keyword weight tables. Scores are summed over distinct matched keywords
// and clamped to [0,1].
var intents = []intentSpec{
	{
		name:    IntentSecurity,
		persona: "sentinel",
		keywords: map[string]float64{
			"security": 0.6, "vulnerability": 0.6, "exploit": 0.5, "secure": 0.5,
			"encrypt": 0.5, "auth": 0.4, "authentication": 0.5, "password": 0.4,
			"injection": 0.6, "xss": 0.6, "csrf": 0.6, "audit": 0.4,
			"threat": 0.5, "sanitize": 0.5, "hack": 0.4, "protect": 0.3,
		},
	},
	{
		name:    IntentReview,
		persona: "reviewer",
		keywords: map[string]float64{
			"review": 0.6, "critique": 0.6, "feedback": 0.5, "evaluate": 0.4,
			"assess": 0.4, "opinion": 0.3, "improve": 0.3, "thoughts": 0.3,
		},
	},
	{
		name:    IntentArchitecture,
		persona: "architect",
		keywords: map[string]float64{
			"architecture": 0.7, "design": 0.4, "microservice": 0.5,
			"schema": 0.4, "structure": 0.4, "pattern": 0.3, "framework": 0.3,
		},
	},
	{
		name:    IntentCode,
		persona: "engineer",
		keywords: map[string]float64{
			"code": 0.5, "function": 0.4, "debug": 0.5, "bug": 0.4,
			"script": 0.4, "implement": 0.4, "refactor": 0.5, "compile": 0.4,
			"algorithm": 0.4, "api": 0.3, "class": 0.3, "string": 0.2,
			"program": 0.3, "fix": 0.3, "terminal": 0.3, "sql": 0.4,
			"endpoint": 0.3, "optimize": 0.3,
		},
	},
	{
		name:    IntentPlan,
		persona: "strategist",
		keywords: map[string]float64{
			"plan": 0.5, "roadmap": 0.6, "milestone": 0.5, "sprint": 0.5,
			"schedule": 0.4, "timeline": 0.4, "strategy": 0.5, "backlog": 0.5,
			"prioritize": 0.4, "organize": 0.3, "tactics": 0.4,
		},
	},
	{
		name:    IntentSummarize,
		persona: "chronicler",
		keywords: map[string]float64{
			"summarize": 0.7, "summary": 0.6, "explain": 0.4, "document": 0.4,
			"documentation": 0.5, "readme": 0.6, "guide": 0.4, "tutorial": 0.5,
			"describe": 0.3, "docstring": 0.5,
		},
	},
	{
		name:    IntentCreative,
		persona: "storyteller",
		keywords: map[string]float64{
			"story": 0.6, "poem": 0.7, "creative": 0.5, "character": 0.3,
			"plot": 0.3, "imagine": 0.4, "fiction": 0.6, "dialogue": 0.4,
		},
	},
	{
		name:    IntentAsk,
		persona: "archivist",
		keywords: map[string]float64{
			"what": 0.2, "how": 0.2, "why": 0.2, "when": 0.15, "where": 0.15,
			"question": 0.4, "who": 0.15,
		},
	},
}

// Classifier maps free text to an intent, a confidence and a persona name.
// Classification is a pure function of the input: no network I/O, no shared
// state, identical input always yields an identical result.
type Classifier struct {
	threshold float64
}

// NewClassifier constructs a classifier gated at the given confidence
// threshold.
func NewClassifier(threshold float64) *Classifier {
	return &Classifier{threshold: threshold}
}

// Classify scores the input against the keyword tables and returns the
// winning intent. Classification never fails: absence of a match resolves
// to the general intent and default persona, not an error.
func (c *Classifier) Classify(text string) models.IntentResult {
	if strings.TrimSpace(text) == "" {
		return models.IntentResult{
			Intent:  IntentGeneral,
			Persona: persona.DefaultName,
		}
	}

	words := tokenize(text)
	hasQuestion := strings.Contains(text, "?")

	best := models.IntentResult{Intent: IntentGeneral, Persona: persona.DefaultName}
	for _, spec := range intents {
		score, matched := scoreIntent(spec, words)
		if spec.name == IntentAsk && hasQuestion {
			score += questionBoost
		}
		if score > 1 {
			score = 1
		}
		// Strictly greater: ties resolve to the earlier, more specific intent.
		if score > best.Confidence {
			best = models.IntentResult{
				Intent:     spec.name,
				Confidence: score,
				Matched:    matched,
				Persona:    spec.persona,
			}
		}
	}

	if best.Confidence < c.threshold {
		best.Intent = IntentGeneral
		best.Persona = persona.DefaultName
	}
	return best
}

func scoreIntent(spec intentSpec, words map[string]struct{}) (float64, []string) {
	var score float64
	var matched []string
	for keyword, weight := range spec.keywords {
		if _, ok := words[keyword]; ok {
			score += weight
			matched = append(matched, keyword)
		}
	}
	sort.Strings(matched)
	return score, matched
}

// tokenize lowercases the input and splits it into the set of distinct
// words. A keyword occurring twice scores once; repetition is not signal.
func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		words[f] = struct{}{}
	}
	return words
}
