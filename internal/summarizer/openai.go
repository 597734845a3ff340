// Package summarizer turns a crawl corpus into a markdown summary through an
// OpenAI-compatible chat completion API, with retries and client-side rate
// limiting layered on top.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	defaultModel         = openai.GPT4oMini
	defaultTemperature   = 0.3
	defaultMaxTokens     = 1500
	defaultMaxInputChars = 12000
)

// ErrEmptyCorpus is returned when there is nothing to summarize.
var ErrEmptyCorpus = errors.New("no content to summarize")

// Config controls the chat completion request.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	// Temperature defaults to 0.3 when nil. Zero is honored.
	Temperature   *float32
	MaxTokens     int
	MaxInputChars int
}

// OpenAI implements crawler.Summarizer with go-openai.
type OpenAI struct {
	client *openai.Client
	cfg    Config
	logger *zap.Logger
}

// NewOpenAI builds a client. BaseURL lets tests and compatible gateways
// replace the public endpoint.
func NewOpenAI(cfg Config, logger *zap.Logger) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("summarizer api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Temperature == nil {
		t := float32(defaultTemperature)
		cfg.Temperature = &t
	}
	if *cfg.Temperature < 0 || *cfg.Temperature > 2 {
		return nil, fmt.Errorf("summarizer temperature %v out of range [0, 2]", *cfg.Temperature)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.MaxInputChars == 0 {
		cfg.MaxInputChars = defaultMaxInputChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Summarize sends one chat completion request for the corpus.
func (o *OpenAI) Summarize(ctx context.Context, corpus string, sourceURL string) (string, error) {
	if strings.TrimSpace(corpus) == "" {
		return "", ErrEmptyCorpus
	}
	text, truncated := Truncate(corpus, o.cfg.MaxInputChars)
	if truncated {
		o.logger.Info("truncating corpus",
			zap.String("url", sourceURL),
			zap.Int("chars", len(corpus)),
			zap.Int("max_chars", o.cfg.MaxInputChars),
		)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(text, sourceURL)},
		},
		Temperature: requestTemperature(*o.cfg.Temperature),
		MaxTokens:   o.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return "", errors.New("chat completion returned empty content")
	}
	o.logger.Debug("summary generated", zap.String("url", sourceURL), zap.Int("chars", len(summary)))
	return summary, nil
}

// requestTemperature keeps an explicit zero on the wire; go-openai omits a
// zero temperature and the API would fall back to its own default.
func requestTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}
