// Package smoke sends one completion through a local LiteLLM proxy to check that
// the stored Copilot credentials work end to end.
package smoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
)

// Protocols understood by Run.
const (
	ProtocolOpenAI    = "openai"
	ProtocolAnthropic = "anthropic"
)

// Config describes the proxy and the request.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Prompt    string
	Protocol  string
	MaxTokens int
	Timeout   time.Duration

	// HTTPClient overrides the client used by the SDKs.
	HTTPClient *http.Client
}

// Result is the first reply of the proxy.
type Result struct {
	Protocol string
	Model    string
	Reply    string
	Elapsed  time.Duration
}

// Run sends a single non-streaming completion. It does not retry.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	slog.DebugContext(ctx, "sending smoke test completion", "protocol", cfg.Protocol, "base_url", cfg.BaseURL, "model", cfg.Model)

	start := time.Now()
	var reply, model string
	var err error
	switch cfg.Protocol {
	case "", ProtocolOpenAI:
		reply, model, err = chatCompletion(ctx, cfg, httpClient)
	case ProtocolAnthropic:
		reply, model, err = message(ctx, cfg, httpClient)
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", cfg.Protocol)
	}
	if err != nil {
		return nil, err
	}

	protocol := cfg.Protocol
	if protocol == "" {
		protocol = ProtocolOpenAI
	}
	return &Result{Protocol: protocol, Model: model, Reply: reply, Elapsed: time.Since(start)}, nil
}

// chatCompletion uses the OpenAI chat completions API.
func chatCompletion(ctx context.Context, cfg Config, httpClient *http.Client) (string, string, error) {
	client := openai.NewClient(
		openaioption.WithBaseURL(cfg.BaseURL),
		openaioption.WithAPIKey(cfg.APIKey),
		openaioption.WithHTTPClient(httpClient),
		openaioption.WithMaxRetries(0),
	)

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(cfg.Prompt),
		},
	}
	if cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(cfg.MaxTokens))
	}

	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", "", errors.New("chat completion returned no choices")
	}
	return completion.Choices[0].Message.Content, completion.Model, nil
}

// message uses the Anthropic Messages API that LiteLLM also serves.
func message(ctx context.Context, cfg Config, httpClient *http.Client) (string, string, error) {
	client := anthropic.NewClient(
		anthropicoption.WithBaseURL(cfg.BaseURL),
		anthropicoption.WithAPIKey(cfg.APIKey),
		anthropicoption.WithHTTPClient(httpClient),
		anthropicoption.WithMaxRetries(0),
	)

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.Model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(cfg.Prompt)),
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("message: %w", err)
	}

	var texts []string
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok && text.Text != "" {
			texts = append(texts, text.Text)
		}
	}
	if len(texts) == 0 {
		return "", "", errors.New("message returned no text")
	}
	return strings.Join(texts, "\n"), string(msg.Model), nil
}
