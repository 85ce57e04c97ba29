package embed

import (
	"context"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultLegacyModel = "text-embedding-004"

// LegacyGemini uses the older generative-ai-go client. Kept for deployments
// pinned to that SDK's auth path.
type LegacyGemini struct {
	client *genai.Client
	model  string
}

var _ Embedder = (*LegacyGemini)(nil)

func NewLegacyGemini(ctx context.Context, apiKey, model string) (*LegacyGemini, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set: %w", ErrUnavailable)
	}
	if model == "" {
		model = defaultLegacyModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &LegacyGemini{client: client, model: model}, nil
}

func (g *LegacyGemini) Name() string { return "gemini-legacy/" + g.model }

func (g *LegacyGemini) Embed(ctx context.Context, text string) ([]float32, error) {
	em := g.client.EmbeddingModel(g.model)
	resp, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}
	if resp == nil || resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding returned from API")
	}
	return resp.Embedding.Values, nil
}

// Close releases the underlying gRPC connection.
func (g *LegacyGemini) Close() error {
	return g.client.Close()
}
