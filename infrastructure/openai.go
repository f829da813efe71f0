package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const summaryMaxTokens = 500

const summaryPrompt = `You are an assistant that processes recruitment documents.
1. Summarise the content below, keeping only information about:
- skills
- job positions
- work experience and practical projects
2. Drop personal details, education, certificates and anything unrelated to competence.
3. Write the summary in concise, natural English.

---
%s
---
Return only the final English summary, without any explanation.`

// OpenAIClient summarises and embeds text through the OpenAI API or a compatible proxy.
type OpenAIClient struct {
	client         *openai.Client
	summaryModel   string
	embeddingModel string
	dimensions     int
}

// proxyTokenTransport adds the proxy's shared token to every request.
type proxyTokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t proxyTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("x-proxy-token", t.token)
	return t.base.RoundTrip(clone)
}

func NewOpenAIClient(cfg AIConfig, timeout time.Duration) *OpenAIClient {
	conf := openai.DefaultConfig(cfg.OpenAIKey)
	httpClient := &http.Client{Timeout: timeout}
	if proxy := strings.TrimSpace(cfg.OpenAIProxyURL); proxy != "" {
		conf.BaseURL = strings.TrimRight(proxy, "/") + "/v1"
		if cfg.OpenAIProxyToken != "" {
			httpClient.Transport = proxyTokenTransport{token: cfg.OpenAIProxyToken, base: http.DefaultTransport}
		}
	}
	conf.HTTPClient = httpClient

	return &OpenAIClient{
		client:         openai.NewClientWithConfig(conf),
		summaryModel:   cfg.OpenAISummaryModel,
		embeddingModel: cfg.OpenAIEmbeddingModel,
		dimensions:     cfg.Dimensions,
	}
}

func (c *OpenAIClient) Summarize(ctx context.Context, text string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.summaryModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(summaryPrompt, text)},
		},
		MaxTokens: summaryMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai summarize: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai summarize: no choices in response")
	}
	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return "", errors.New("openai summarize: empty summary")
	}
	return summary, nil
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embeddingModel),
	}
	if c.dimensions > 0 && strings.HasPrefix(c.embeddingModel, "text-embedding-3") {
		req.Dimensions = c.dimensions
	}
	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("openai embed: no embedding in response")
	}
	return resp.Data[0].Embedding, nil
}
