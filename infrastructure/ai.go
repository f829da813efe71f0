package infrastructure

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AI providers accepted by ai.provider.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type textModel interface {
	Summarize(ctx context.Context, text string) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingProducer summarises text and embeds summaries through the configured provider.
// Calls are throttled when a request rate is configured.
type EmbeddingProducer struct {
	model    textModel
	limiter  *rate.Limiter
	provider string
	logger   *zap.Logger
}

// NewEmbeddingProducer builds the producer for cfg.Provider.
func NewEmbeddingProducer(ctx context.Context, cfg AIConfig, timeout time.Duration, logger *zap.Logger) (*EmbeddingProducer, error) {
	var (
		model textModel
		err   error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		model = NewOpenAIClient(cfg, timeout)
	case ProviderGemini:
		model, err = NewGeminiClient(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}

	p := newEmbeddingProducer(model, cfg.RequestsPerSecond, logger)
	p.provider = cfg.Provider
	return p, nil
}

func newEmbeddingProducer(model textModel, requestsPerSecond float64, logger *zap.Logger) *EmbeddingProducer {
	p := &EmbeddingProducer{model: model, logger: logger.Named("embedding_producer")}
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return p
}

func (p *EmbeddingProducer) Summarize(ctx context.Context, text string) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}
	start := time.Now()
	summary, err := p.model.Summarize(ctx, text)
	if err != nil {
		return "", err
	}
	p.logger.Debug("summarized text",
		zap.String("provider", p.provider),
		zap.Int("input_chars", len(text)),
		zap.Int("summary_chars", len(summary)),
		zap.Duration("took", time.Since(start)))
	return summary, nil
}

func (p *EmbeddingProducer) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	vec, err := p.model.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("embedded text",
		zap.String("provider", p.provider),
		zap.Int("dimensions", len(vec)),
		zap.Duration("took", time.Since(start)))
	return vec, nil
}

func (p *EmbeddingProducer) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ai rate limit: %w", err)
	}
	return nil
}
