// Package llm generates the avatar's conversational replies.
package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Responder produces a reply to one user utterance. history holds prior
// exchanges rendered as "User: ..." and "AI: ..." lines, oldest first.
type Responder interface {
	Respond(ctx context.Context, text string, history []string) (string, error)
}

// Gemini generates replies through the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

type GeminiOptions struct {
	// APIKey authenticates against the Gemini API.
	APIKey string
	// Model defaults to gemini-2.0-flash.
	Model string
}

func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("llm: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create client: %w", err)
	}
	model := opts.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Respond(ctx context.Context, text string, history []string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("llm: empty user text")
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(BuildPrompt(text, history)), nil)
	if err != nil {
		return "", fmt.Errorf("llm: generate content: %w", err)
	}
	reply := strings.TrimSpace(resp.Text())
	if reply == "" {
		return "", fmt.Errorf("llm: model returned no text")
	}
	return reply, nil
}

// BuildPrompt renders the persona instructions, the recent conversation, and
// the current utterance into a single generation prompt.
func BuildPrompt(text string, history []string) string {
	var contextLine string
	if len(history) > 0 {
		contextLine = "Previous conversation context: " + strings.Join(history, ". ")
	}
	return fmt.Sprintf(`You are a friendly AI avatar assistant. Respond naturally and conversationally. Keep responses brief (2-3 sentences). %s

User: %s

AI Assistant:`, contextLine, text)
}
