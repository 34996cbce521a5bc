package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"semgroup/internal/models"
)

// GeminiProvider generates embeddings through the Google Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
	dim    int
}

// NewGeminiProvider creates a new Gemini embedding provider.
func NewGeminiProvider(ctx context.Context, apiKey, modelName string) (*GeminiProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("Gemini API key not provided")
	}

	var dim int
	switch modelName {
	case "models/embedding-001", "models/text-embedding-004":
		dim = 768
	default:
		log.Warnf("unknown Gemini embedding model %q, defaulting dimension to 768", modelName)
		dim = 768
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}

	log.Infof("Gemini provider initialized with model %s (dimension %d)", modelName, dim)
	return &GeminiProvider{client: client, model: modelName, dim: dim}, nil
}

func (p *GeminiProvider) Name() string      { return "gemini" }
func (p *GeminiProvider) ModelName() string { return p.model }
func (p *GeminiProvider) Dimension() int    { return p.dim }

// GenerateEmbeddings resolves one vector per input text, in input order,
// using the batch embedding endpoint.
func (p *GeminiProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	em := p.client.EmbeddingModel(p.model)
	batch := em.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		if isGeminiRateLimit(err) {
			return nil, fmt.Errorf("%w: %v", models.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("%w: gemini: %v", models.ErrProvider, err)
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		got := 0
		if res != nil {
			got = len(res.Embeddings)
		}
		return nil, fmt.Errorf("%w: gemini returned %d embeddings for %d texts",
			models.ErrProvider, got, len(texts))
	}

	out := make([][]float64, len(texts))
	for i, emb := range res.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("%w: gemini returned no embedding data at index %d",
				models.ErrProvider, i)
		}
		vec := make([]float64, len(emb.Values))
		for j, x := range emb.Values {
			vec[j] = float64(x)
		}
		out[i] = vec
	}
	return out, nil
}

func isGeminiRateLimit(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota")
}

// Close releases the underlying client.
func (p *GeminiProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

var _ EmbeddingProvider = (*GeminiProvider)(nil)
