package embed

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI embeds text with the OpenAI embeddings endpoint.
type OpenAI struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

var _ Embedder = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI embedder. An empty apiKey falls back to
// OPENAI_API_KEY; OPENAI_BASE_URL points it at a compatible server.
func NewOpenAI(apiKey, model string, dimensions int) (*OpenAI, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set: %w", ErrUnavailable)
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		clientConfig.BaseURL = base
	}

	m := openai.SmallEmbedding3
	if model != "" {
		m = openai.EmbeddingModel(model)
	}
	return &OpenAI{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      m,
		dimensions: dimensions,
	}, nil
}

func (o *OpenAI) Name() string { return "openai/" + string(o.model) }

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: o.model,
	}
	if o.dimensions > 0 {
		req.Dimensions = o.dimensions
	}
	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embedding returned from API")
	}
	return resp.Data[0].Embedding, nil
}
