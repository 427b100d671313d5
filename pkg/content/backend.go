package content

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Prompt is one completion request to a language model.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int32
	Temperature float32
	JSON        bool // ask for a JSON response body
}

// Backend completes prompts.
type Backend interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Gemini is a Backend on the Google Generative AI API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini connects to the Gemini API with apiKey.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrUnavailable
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("content: gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Complete runs p as a single-turn generation.
func (g *Gemini) Complete(ctx context.Context, p Prompt) (string, error) {
	m := g.client.GenerativeModel(g.model)
	if p.System != "" {
		m.SystemInstruction = genai.NewUserContent(genai.Text(p.System))
	}
	if p.MaxTokens > 0 {
		m.SetMaxOutputTokens(p.MaxTokens)
	}
	m.SetTemperature(p.Temperature)
	if p.JSON {
		m.ResponseMIMEType = "application/json"
	}
	resp, err := m.GenerateContent(ctx, genai.Text(p.User))
	if err != nil {
		return "", fmt.Errorf("content: gemini: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", ErrMalformed
	}
	return text, nil
}

// Close releases the client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				b.WriteString(string(txt))
			}
		}
	}
	return b.String()
}
