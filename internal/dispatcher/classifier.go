package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/dvloznov/cashflow-assistant/internal/llm"
)

// Classifier picks the capability for a request.
type Classifier interface {
	// Classify returns a decision. Implementations may fail; the dispatcher
	// falls back to RuleClassifier so a message is always routed.
	Classify(ctx context.Context, req Request) (Decision, error)
}

// ownCues mark first-person or possessive references to the user's money.
var ownCues = []string{
	"my", "should i", "can i afford", "when do i", "do i need to pay",
	"am i going to", "will i have", "will i be",
}

// imperativeVerbs ask the assistant to act on the user's payments. They only
// count when they open the request, optionally after a polite prefix.
var imperativeVerbs = []string{"move", "reschedule", "optimize", "optimise", "shift", "delay", "plan"}

var politePrefixes = []string{"please ", "can you ", "could you ", "would you ", "help me "}

// conceptCues mark definitional questions.
var conceptCues = []string{
	"what is", "what's", "what are", "what does", "how does", "how do", "why should", "why is",
	"explain", "define", "difference between", "meaning of", "tell me about",
}

// domainNouns are cashflow terms with no question framing around them, such
// as "overdraft risk next week?".
var domainNouns = []string{
	"overdraft", "overdrawn", "due date", "utilization", "utilisation", "cash flow", "cashflow", "schedule",
}

// RuleClassifier routes on lexical cues. It never fails.
type RuleClassifier struct{}

// Classify implements Classifier.
func (RuleClassifier) Classify(_ context.Context, req Request) (Decision, error) {
	return classifyByRules(req), nil
}

// classifyByRules checks, in order: attached data, own references, imperative
// verbs, conceptual framing, then bare domain nouns.
func classifyByRules(req Request) Decision {
	if req.HasAttachedData() {
		return Decision{Capability: CapabilityScheduler, Reason: "transaction data attached", Source: "rules"}
	}

	msg := normalize(req.Message)
	if cue, ok := firstCue(msg, ownCues); ok {
		return Decision{Capability: CapabilityScheduler, Reason: fmt.Sprintf("references own finances (%q)", cue), Source: "rules"}
	}
	if verb, ok := leadingVerb(msg); ok {
		return Decision{Capability: CapabilityScheduler, Reason: fmt.Sprintf("asks to %s payments", verb), Source: "rules"}
	}
	if cue, ok := firstCue(msg, conceptCues); ok {
		return Decision{Capability: CapabilityEducation, Reason: fmt.Sprintf("conceptual question (%q)", cue), Source: "rules"}
	}
	if cue, ok := firstCue(msg, domainNouns); ok {
		return Decision{Capability: CapabilityScheduler, Reason: fmt.Sprintf("mentions %q", cue), Source: "rules"}
	}
	return Decision{Capability: CapabilityEducation, Reason: "no session data attached", Source: "rules"}
}

// normalize lowercases msg and reduces it to space-separated words, padded
// on both sides so cues match whole words only.
func normalize(msg string) string {
	clean := strings.Map(func(r rune) rune {
		if r == '’' {
			return '\''
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			return unicode.ToLower(r)
		}
		return ' '
	}, msg)
	return " " + strings.Join(strings.Fields(clean), " ") + " "
}

func firstCue(msg string, cues []string) (string, bool) {
	for _, c := range cues {
		if strings.Contains(msg, " "+c+" ") {
			return c, true
		}
	}
	return "", false
}

func leadingVerb(msg string) (string, bool) {
	msg = strings.TrimPrefix(msg, " ")
	for _, p := range politePrefixes {
		msg = strings.TrimPrefix(msg, p)
	}
	word, _, _ := strings.Cut(msg, " ")
	for _, v := range imperativeVerbs {
		if word == v {
			return v, true
		}
	}
	return "", false
}

// ModelClassifier asks an LLM to route messages without attached data.
// Attached data always routes to the scheduler without a model call, and any
// model failure falls back to the rules.
type ModelClassifier struct {
	gen llm.Generator
	log zerolog.Logger
}

// NewModelClassifier creates a ModelClassifier.
func NewModelClassifier(gen llm.Generator, log zerolog.Logger) *ModelClassifier {
	return &ModelClassifier{gen: gen, log: log}
}

const classifyPrompt = `You route messages for a personal finance assistant.
Reply with JSON only: {"capability": "scheduler" | "education", "reason": "<short reason>"}.
Use "scheduler" when the user asks about their own transactions, payments, balances, cards,
or wants something moved, scheduled or optimized. Use "education" for general financial concepts,
including definitions of terms such as utilization, overdraft or due date.

Message: %s`

// Classify implements Classifier.
func (c *ModelClassifier) Classify(ctx context.Context, req Request) (Decision, error) {
	if req.HasAttachedData() {
		return classifyByRules(req), nil
	}

	raw, err := c.gen.Generate(ctx, fmt.Sprintf(classifyPrompt, req.Message))
	if err != nil {
		c.log.Warn().Err(err).Msg("model classification failed, using rules")
		return classifyByRules(req), nil
	}

	var out struct {
		Capability string `json:"capability"`
		Reason     string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(llm.CleanJSON(raw)), &out); err != nil {
		c.log.Warn().Err(err).Str("raw", raw).Msg("unparseable model classification, using rules")
		return classifyByRules(req), nil
	}
	capability := Capability(strings.ToLower(strings.TrimSpace(out.Capability)))
	if !capability.Valid() {
		c.log.Warn().Str("capability", out.Capability).Msg("unknown capability from model, using rules")
		return classifyByRules(req), nil
	}
	return Decision{Capability: capability, Reason: out.Reason, Source: "model"}, nil
}
