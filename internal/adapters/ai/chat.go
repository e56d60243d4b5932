package ai

import (
	"context"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

// ChatClient produces opinion documents via the official OpenAI Go SDK.
// It is the default implementation of the deliberation Agent capability.
type ChatClient struct {
	client  openai.Client
	model   openai.ChatModel
	timeout time.Duration
	limiter *Limiter
	log     *logger.Logger
}

// NewChatClient creates a new chat client
func NewChatClient(apiKey, model string, timeout time.Duration, requestsPerMinute int) (*ChatClient, error) {
	if apiKey == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "openai API key is required")
	}
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	if timeout == 0 {
		timeout = 90 * time.Second
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &ChatClient{
		client:  client,
		model:   openai.ChatModel(model),
		timeout: timeout,
		limiter: NewLimiter("openai_chat", requestsPerMinute),
		log:     logger.Get().With("component", "openai_chat", "model", model),
	}, nil
}

// Complete sends one system+user exchange and returns the assistant text.
// HTTP 4xx responses other than 429 are classified as permanent failures so
// callers do not burn their retry budget on them.
func (c *ChatClient) Complete(ctx context.Context, system, user string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", classifyAPIError(err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.Wrapf(errors.ErrUnavailable, "empty completion from %s", c.model)
	}

	c.log.Debug("Chat completion finished",
		"duration", time.Since(started),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	return resp.Choices[0].Message.Content, nil
}

// classifyAPIError maps SDK errors onto the engine's error taxonomy
func classifyAPIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 429 {
			return errors.Wrapf(errors.ErrAgentPermanent, "openai API rejected request (%d)", apiErr.StatusCode)
		}
		return errors.Wrapf(errors.ErrUnavailable, "openai API error (%d)", apiErr.StatusCode)
	}
	return errors.Wrap(err, "openai API call failed")
}
