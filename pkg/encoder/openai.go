package encoder

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// DefaultModel is the default OpenAI embeddings model.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// Ensure OpenAIEncoder implements Encoder.
var _ Encoder = (*OpenAIEncoder)(nil)

// OpenAIEncoder implements Encoder using the OpenAI embeddings API.
// Returned vectors are unit-normalized.
type OpenAIEncoder struct {
	client oai.Client
	model  string
	dim    int
}

// OpenAIConfig configures the OpenAI encoder.
type OpenAIConfig struct {
	// APIKey for the OpenAI API (required).
	APIKey string

	// Model name (default: text-embedding-3-small).
	Model string

	// BaseURL overrides the default API base URL.
	BaseURL string

	// Timeout is the per-request HTTP timeout (default 30s).
	Timeout time.Duration
}

// NewOpenAIEncoder constructs an encoder backed by the OpenAI embeddings API.
func NewOpenAIEncoder(cfg OpenAIConfig) (*OpenAIEncoder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("encoder: apiKey must not be empty")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIEncoder{
		client: oai.NewClient(reqOpts...),
		model:  model,
		dim:    modelDimensions(model),
	}, nil
}

// Encode implements Encoder.
func (e *OpenAIEncoder) Encode(ctx context.Context, text string) (Vector, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	resp, err := e.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: e.model,
		Input: oai.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encoder: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("encoder: empty embeddings response")
	}
	return e.toUnitVector(resp.Data[0].Embedding)
}

// BatchEncode implements Encoder.
func (e *OpenAIEncoder) BatchEncode(ctx context.Context, texts []string) ([]Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, ErrEmptyInput
		}
	}
	resp, err := e.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: e.model,
		Input: oai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encoder: embed batch: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("encoder: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([]Vector, len(texts))
	for _, item := range resp.Data {
		if int(item.Index) >= len(texts) {
			return nil, fmt.Errorf("encoder: unexpected embedding index %d", item.Index)
		}
		v, err := e.toUnitVector(item.Embedding)
		if err != nil {
			return nil, err
		}
		out[item.Index] = v
	}
	return out, nil
}

// Dim implements Encoder.
func (e *OpenAIEncoder) Dim() int { return e.dim }

func (e *OpenAIEncoder) toUnitVector(raw []float64) (Vector, error) {
	v := make(Vector, len(raw))
	for i, x := range raw {
		v[i] = float32(x)
	}
	if err := Normalize(v); err != nil {
		return nil, err
	}
	return v, nil
}

// modelDimensions returns the embedding dimensions for known OpenAI models.
func modelDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "text-embedding-3-large"):
		return 3072
	case strings.Contains(lower, "text-embedding-3-small"):
		return 1536
	case strings.Contains(lower, "text-embedding-ada-002"):
		return 1536
	default:
		return 1536
	}
}
