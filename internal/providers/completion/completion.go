// Package completion talks to the remote language-model completion service.
package completion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/resilience"
)

// Dependency is the breaker and metrics name for this service
const Dependency = "completion"

// Tier selects which configured model serves a request
type Tier string

const (
	TierPrimary   Tier = "primary"
	TierSecondary Tier = "secondary"
)

var (
	ErrEmptyCompletion = errors.New("completion returned no choices")
	ErrEmptyEmbedding  = errors.New("embedding response was empty")
	ErrNotConfigured   = errors.New("completion service is not configured")
)

// Request is a single chat completion
type Request struct {
	Tier   Tier
	System string
	Prompt string
}

// Client is the completion service boundary
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds OpenAI client settings
type Config struct {
	APIKey         string
	BaseURL        string
	PrimaryModel   string
	SecondaryModel string
	EmbeddingModel string
	MaxTokens      int
	Temperature    float32
}

// OpenAI implements Client over an OpenAI-compatible API
type OpenAI struct {
	client *openai.Client
	cfg    Config
	logger *zap.Logger
}

// NewOpenAI creates a client. An empty APIKey yields a client whose calls
// fail with ErrNotConfigured so that callers fall through to degraded paths.
func NewOpenAI(cfg Config, logger *zap.Logger) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger.Named("completion"),
	}
}

// Model returns the model name serving tier
func (o *OpenAI) Model(tier Tier) string {
	if tier == TierSecondary {
		return o.cfg.SecondaryModel
	}
	return o.cfg.PrimaryModel
}

// Complete runs a chat completion and returns the first choice
func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	if o.cfg.APIKey == "" {
		return "", ErrNotConfigured
	}

	model := o.Model(req.Tier)
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	})
	if err != nil {
		o.logger.Debug("chat completion failed", zap.String("model", model), zap.Error(err))
		return "", classify(fmt.Errorf("chat completion (%s): %w", model, err))
	}

	if len(resp.Choices) == 0 {
		return "", resilience.Transient(ErrEmptyCompletion)
	}

	o.logger.Debug("chat completion received",
		zap.String("model", model),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the embedding vector for text
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if o.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, classify(fmt.Errorf("embedding: %w", err))
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return resp.Data[0].Embedding, nil
}

// classify marks rate limits, server errors and connection failures as
// transient. Client errors such as bad requests and auth stay permanent.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if retryableStatus(apiErr.HTTPStatusCode) {
			return resilience.Transient(err)
		}
		return err
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if retryableStatus(reqErr.HTTPStatusCode) {
			return resilience.Transient(err)
		}
		return err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return resilience.Transient(err)
	}

	return err
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}
