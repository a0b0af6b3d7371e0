// Package education answers conceptual personal-finance questions. It never
// reads or writes session state.
package education

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/dvloznov/cashflow-assistant/internal/dispatcher"
	"github.com/dvloznov/cashflow-assistant/internal/llm"
)

//go:embed topics.yaml
var defaultCatalog []byte

// Topic is one canned explanation.
type Topic struct {
	Key      string   `yaml:"key"`
	Title    string   `yaml:"title"`
	Keywords []string `yaml:"keywords"`
	Answer   string   `yaml:"answer"`
}

// Catalog is the set of topics the responder can answer without a model.
type Catalog struct {
	Disclaimer string  `yaml:"disclaimer"`
	Fallback   string  `yaml:"fallback"`
	Topics     []Topic `yaml:"topics"`
}

// LoadCatalog parses a YAML catalog. A nil or empty input loads the built-in one.
func LoadCatalog(raw []byte) (*Catalog, error) {
	if len(raw) == 0 {
		raw = defaultCatalog
	}
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("LoadCatalog: %w", err)
	}
	for i, t := range c.Topics {
		if t.Key == "" || t.Answer == "" {
			return nil, fmt.Errorf("LoadCatalog: topic %d needs key and answer", i)
		}
	}
	return &c, nil
}

// Match returns the topic with the most keyword hits in message. Ties go to
// the topic listed first.
func (c *Catalog) Match(message string) (Topic, bool) {
	msg := strings.ToLower(message)
	best, bestHits := -1, 0
	for i, t := range c.Topics {
		hits := 0
		for _, kw := range t.Keywords {
			if strings.Contains(msg, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = i, hits
		}
	}
	if best < 0 {
		return Topic{}, false
	}
	return c.Topics[best], true
}

// Titles lists topic titles in alphabetical order.
func (c *Catalog) Titles() []string {
	out := make([]string, 0, len(c.Topics))
	for _, t := range c.Topics {
		out = append(out, t.Title)
	}
	sort.Strings(out)
	return out
}

// Responder implements dispatcher.Handler for the education capability.
type Responder struct {
	catalog *Catalog
	gen     llm.Generator
	log     zerolog.Logger
}

// Option configures a Responder.
type Option func(*Responder)

// WithGenerator lets the responder answer questions outside the catalog.
func WithGenerator(gen llm.Generator) Option {
	return func(r *Responder) {
		r.gen = gen
	}
}

// WithCatalog replaces the built-in catalog.
func WithCatalog(c *Catalog) Option {
	return func(r *Responder) {
		if c != nil {
			r.catalog = c
		}
	}
}

// NewResponder creates a Responder over the built-in catalog.
func NewResponder(log zerolog.Logger, opts ...Option) (*Responder, error) {
	c, err := LoadCatalog(nil)
	if err != nil {
		return nil, fmt.Errorf("NewResponder: %w", err)
	}
	r := &Responder{catalog: c, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Handle implements dispatcher.Handler. Catalog hits are answered directly;
// other questions go to the model when one is configured.
func (r *Responder) Handle(ctx context.Context, call dispatcher.Call) (dispatcher.Response, error) {
	question := strings.TrimSpace(call.Request.Message)
	resp := dispatcher.Response{Outcome: dispatcher.OutcomeAnswered}

	if topic, ok := r.catalog.Match(question); ok {
		resp.Text = r.withDisclaimer(topic.Answer)
		resp.Bullets = []string{topic.Title}
		return resp, nil
	}

	if r.gen != nil && question != "" {
		answer, err := r.gen.Generate(ctx, educationPrompt(question, r.catalog.Disclaimer))
		if err == nil && strings.TrimSpace(answer) != "" {
			resp.Text = strings.TrimSpace(answer)
			return resp, nil
		}
		if err != nil {
			r.log.Warn().Err(err).Str("session_id", call.Session.ID).Msg("education: model unavailable, using fallback")
		}
	}

	resp.Text = r.withDisclaimer(r.catalog.Fallback)
	resp.Bullets = r.catalog.Titles()
	return resp, nil
}

func (r *Responder) withDisclaimer(text string) string {
	if r.catalog.Disclaimer == "" {
		return text
	}
	return text + "\n\n" + r.catalog.Disclaimer
}

func educationPrompt(question, disclaimer string) string {
	return `You are a personal-finance educator. Answer the question below in at most
120 words of plain English. Explain concepts only; do not recommend specific
products or comment on the user's own accounts. End with this sentence: "` + disclaimer + `"

Question: ` + question
}
