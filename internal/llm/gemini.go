// Package llm wraps the Gemini text model used for routing, education answers
// and plan explanations.
package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// Generator produces a text completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config selects the Gemini backend.
type Config struct {
	APIKey      string
	Project     string
	Location    string
	Model       string
	Temperature float32
}

// Gemini implements Generator on google.golang.org/genai.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGemini creates a client. With a project set it talks to Vertex AI;
// otherwise it uses the Gemini API with APIKey (or GOOGLE_API_KEY).
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	cc := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if cfg.Project != "" {
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	} else {
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("NewGemini: genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModelName
	}
	return &Gemini{client: client, model: model, temperature: cfg.Temperature}, nil
}

// Generate sends a single user turn and returns the model's text.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("Generate: GenerateContent: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("Generate: empty response from %s", g.model)
	}
	return text, nil
}

// CleanJSON strips Markdown fences and surrounding chatter from model output
// that is supposed to be a single JSON object or array.
func CleanJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	open := strings.IndexAny(s, "{[")
	if open == -1 {
		return s
	}
	closer := "}"
	if s[open] == '[' {
		closer = "]"
	}
	if end := strings.LastIndex(s, closer); end > open {
		s = s[open : end+1]
	}
	return strings.TrimSpace(s)
}

// Bullets splits model output into at most max non-empty lines with list
// markers removed.
func Bullets(raw string, max int) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•0123456789.) ")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}
