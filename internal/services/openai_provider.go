package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"semgroup/internal/models"
)

// OpenAIProvider generates embeddings through the OpenAI API.
type OpenAIProvider struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dim    int
	usage  UsageRecorder
}

// NewOpenAIProvider creates a new OpenAI embedding provider. The usage
// recorder may be nil.
func NewOpenAIProvider(apiKey, modelID string, usage UsageRecorder) (*OpenAIProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("OpenAI API key not provided")
	}

	var dim int
	switch modelID {
	case string(openai.AdaEmbeddingV2), "text-embedding-3-small":
		dim = 1536
	case "text-embedding-3-large":
		dim = 3072
	default:
		log.Warnf("unknown OpenAI embedding model %q, defaulting dimension to 1536", modelID)
		dim = 1536
	}

	log.Infof("OpenAI provider initialized with model %s (dimension %d)", modelID, dim)
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  openai.EmbeddingModel(modelID),
		dim:    dim,
		usage:  usage,
	}, nil
}

func (p *OpenAIProvider) Name() string      { return "openai" }
func (p *OpenAIProvider) ModelName() string { return string(p.model) }
func (p *OpenAIProvider) Dimension() int    { return p.dim }

// GenerateEmbeddings resolves one vector per input text, in input order.
// Rate-limit responses are wrapped in models.ErrRateLimited so the fetcher's
// retry policy can treat them distinctly.
func (p *OpenAIProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: p.model,
	})
	if err != nil {
		if isRateLimit(err) {
			return nil, fmt.Errorf("%w: %v", models.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("%w: openai: %v", models.ErrProvider, err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: openai returned %d embeddings for %d texts",
			models.ErrProvider, len(resp.Data), len(texts))
	}

	out := make([][]float64, len(texts))
	for i, data := range resp.Data {
		if len(data.Embedding) != p.dim {
			return nil, fmt.Errorf("%w: openai returned dimension %d, expected %d",
				models.ErrProvider, len(data.Embedding), p.dim)
		}
		vec := make([]float64, len(data.Embedding))
		for j, x := range data.Embedding {
			vec[j] = float64(x)
		}
		out[i] = vec
	}

	if p.usage != nil && resp.Usage.TotalTokens > 0 {
		entry := &models.AIUsageLog{
			Timestamp:    time.Now(),
			ProviderName: p.Name(),
			ModelName:    p.ModelName(),
			InputTokens:  resp.Usage.TotalTokens,
			TextCount:    len(texts),
		}
		if err := p.usage.RecordUsage(ctx, entry); err != nil {
			log.Errorf("failed to record embedding usage: %v", err)
		}
	}

	return out, nil
}

// isRateLimit recognizes provider throttling in the transport error.
func isRateLimit(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 {
			return true
		}
		return strings.Contains(strings.ToLower(apiErr.Message), "rate limit")
	}
	return false
}

var _ EmbeddingProvider = (*OpenAIProvider)(nil)
