package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/exploopio/sentinel/pkg/core"
	serrors "github.com/exploopio/sentinel/pkg/errors"
)

// OpenAIConfig configures an OpenAI-compatible chat completion backend.
type OpenAIConfig struct {
	// API key (required)
	APIKey string `yaml:"api_key" json:"-"`

	// Base URL override for compatible gateways, e.g. "http://localhost:8080/v1"
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Model name (default gpt-4o-mini)
	Model string `yaml:"model" json:"model"`

	// Sampling temperature (nil = 0.3). An explicit 0 is honored.
	Temperature *float32 `yaml:"temperature" json:"temperature"`

	// Completion token cap (0 = backend default)
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`

	// Per-call timeout (default 30s)
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	Logger core.Logger `yaml:"-" json:"-"`
}

// OpenAIClassifier classifies content and drafts recommendations through
// the chat completion API.
type OpenAIClassifier struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	logger      core.Logger
}

// NewOpenAIClassifier creates a chat completion backed classifier.
func NewOpenAIClassifier(cfg OpenAIConfig) (*OpenAIClassifier, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, serrors.E(serrors.KindClassifierUnavailable, "classifier.NewOpenAIClassifier", "api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	temperature := float32(0.3)
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	logger := core.OrNop(cfg.Logger)
	logger.Info("initializing OpenAI classifier model=%s", cfg.Model)

	return &OpenAIClassifier{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		logger:      logger,
	}, nil
}

// Classify implements Classifier.
func (o *OpenAIClassifier) Classify(ctx context.Context, req Request) (*Result, error) {
	content, err := o.complete(ctx, "classifier.OpenAI.Classify", SystemPrompt(req.Category), BuildPrompt(req))
	if err != nil {
		return nil, err
	}
	return ParseResult(req.Category, content)
}

// Draft implements Drafter.
func (o *OpenAIClassifier) Draft(ctx context.Context, req DraftRequest) (*Draft, error) {
	system := "You are an expert in threat mitigation and organizational security. Generate actionable recommendations and respond only with valid JSON."
	content, err := o.complete(ctx, "classifier.OpenAI.Draft", system, buildDraftPrompt(req))
	if err != nil {
		return nil, err
	}
	return parseDraft(content)
}

func (o *OpenAIClassifier) complete(ctx context.Context, op, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: requestTemperature(o.temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	if o.maxTokens > 0 {
		req.MaxTokens = o.maxTokens
	}

	o.logger.Debug("chat completion model=%s op=%s", o.model, op)
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", serrors.E(serrors.KindCanceled, op, err)
		}
		return "", serrors.E(serrors.KindClassifierUnavailable, op, "chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", serrors.E(serrors.KindMalformedResponse, op, "reply has no choices")
	}
	o.logger.Debug("chat completion finished reason=%s", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// String describes the backend for health reporting.
func (o *OpenAIClassifier) String() string {
	return fmt.Sprintf("openai(%s)", o.model)
}

var (
	_ Classifier = (*OpenAIClassifier)(nil)
	_ Drafter    = (*OpenAIClassifier)(nil)
)

// requestTemperature maps 0 to the smallest positive float32; the request
// field is omitempty and a dropped temperature means the backend default.
func requestTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}
