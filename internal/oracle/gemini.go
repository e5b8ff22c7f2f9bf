package oracle

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/iambrandonn/datascout/internal/conversation"
)

// DefaultGeminiModel is used when the configured model is an OpenAI one
const DefaultGeminiModel = "gemini-2.0-flash"

// Gemini completes conversations through the Gemini API
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini provider
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Complete implements Oracle. System entries become the system instruction;
// assistant entries are sent in the model role.
func (g *Gemini) Complete(ctx context.Context, entries []conversation.Entry) (string, error) {
	contents, system := geminiContents(entries)

	cfg := &genai.GenerateContentConfig{}
	if system != nil {
		cfg.SystemInstruction = system
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func geminiContents(entries []conversation.Entry) ([]*genai.Content, *genai.Content) {
	var (
		contents []*genai.Content
		system   *genai.Content
	)
	for _, e := range entries {
		switch e.Role {
		case conversation.RoleSystem:
			if system == nil {
				system = genai.NewContentFromText(e.Text, genai.RoleUser)
			} else {
				system.Parts = append(system.Parts, genai.NewPartFromText(e.Text))
			}
		case conversation.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(e.Text, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(e.Text, genai.RoleUser))
		}
	}
	return contents, system
}
