package embed

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-embedding-001"

// Gemini embeds text with the Gemini API through the GenAI SDK.
type Gemini struct {
	client    *genai.Client
	model     string
	dimension int32
}

var _ Embedder = (*Gemini)(nil)

// NewGemini creates a Gemini embedder. An empty apiKey falls back to
// GEMINI_API_KEY; dimension <= 0 keeps the model default.
func NewGemini(ctx context.Context, apiKey, model string, dimension int) (*Gemini, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set: %w", ErrUnavailable)
	}
	if model == "" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Gemini{client: client, model: model, dimension: int32(dimension)}, nil
}

func (g *Gemini) Name() string { return "gemini/" + g.model }

func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	cfg := &genai.EmbedContentConfig{}
	if g.dimension > 0 {
		dim := g.dimension
		cfg.OutputDimensionality = &dim
	}

	result, err := g.client.Models.EmbedContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}
	if result == nil || len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("no embedding returned from API")
	}
	return result.Embeddings[0].Values, nil
}
