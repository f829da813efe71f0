package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

var defaultGeminiSummaryModels = []string{
	"gemini-2.5-flash",
	"gemini-2.0-flash",
	"gemini-2.5-flash-lite",
}

const defaultGeminiEmbeddingModel = "gemini-embedding-001"

// GeminiClient summarises and embeds text with the Gemini API.
type GeminiClient struct {
	client         *genai.Client
	summaryModels  []string
	embeddingModel string
	dimensions     int
	logger         *zap.Logger
}

func NewGeminiClient(ctx context.Context, cfg AIConfig, logger *zap.Logger) (*GeminiClient, error) {
	apiKey := strings.TrimSpace(cfg.GeminiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	models := make([]string, 0, len(cfg.GeminiSummaryModels))
	for _, m := range cfg.GeminiSummaryModels {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	if len(models) == 0 {
		models = defaultGeminiSummaryModels
	}
	embeddingModel := strings.TrimSpace(cfg.GeminiEmbeddingModel)
	if embeddingModel == "" {
		embeddingModel = defaultGeminiEmbeddingModel
	}

	return &GeminiClient{
		client:         client,
		summaryModels:  models,
		embeddingModel: embeddingModel,
		dimensions:     cfg.Dimensions,
		logger:         logger.Named("gemini"),
	}, nil
}

// Summarize tries each configured model in order and returns the first non-empty summary.
func (g *GeminiClient) Summarize(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf(summaryPrompt, text)
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: summaryMaxTokens}

	var lastErr error
	for _, model := range g.summaryModels {
		summary, err := g.generate(ctx, model, prompt, cfg)
		if err == nil {
			return summary, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		g.logger.Warn("summary model failed", zap.String("model", model), zap.Error(err))
		lastErr = err
	}
	return "", fmt.Errorf("all gemini models failed: %w", lastErr)
}

func (g *GeminiClient) generate(ctx context.Context, model, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			t := strings.TrimSpace(part.Text)
			if t == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(t)
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return "", errors.New("gemini api returned empty response")
	}
	return output, nil
}

func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var cfg *genai.EmbedContentConfig
	if g.dimensions > 0 {
		dims := int32(g.dimensions)
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &dims}
	}
	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, errors.New("gemini embed: no embedding in response")
	}
	return resp.Embeddings[0].Values, nil
}
