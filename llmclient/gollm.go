package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/teilomillet/gollm"
)

// GollmBackend wraps a gollm.LLM instance and implements Backend. It
// translates plain role-tagged messages into gollm's prompt API and
// classifies gollm errors into BackendError kinds.
type GollmBackend struct {
	provider string
	llm      gollm.LLM
	model    string
	retry    RetryPolicy
}

// GollmBackendOption configures a GollmBackend.
type GollmBackendOption func(*gollmBackendConfig)

type gollmBackendConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	retry       RetryPolicy
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key for the backend.
func WithAPIKey(key string) GollmBackendOption {
	return func(c *gollmBackendConfig) {
		c.apiKey = key
	}
}

// WithModel sets the default model for the backend.
func WithModel(model string) GollmBackendOption {
	return func(c *gollmBackendConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmBackendOption {
	return func(c *gollmBackendConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmBackendOption {
	return func(c *gollmBackendConfig) {
		c.temperature = t
	}
}

// WithRetryPolicy overrides the transport retry policy.
func WithRetryPolicy(p RetryPolicy) GollmBackendOption {
	return func(c *gollmBackendConfig) {
		c.retry = p
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmBackendOption {
	return func(c *gollmBackendConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmBackend creates a GollmBackend for the given provider. If no API
// key is configured, gollm reads it from the provider's environment variable.
func NewGollmBackend(provider string, opts ...GollmBackendOption) (*GollmBackend, error) {
	cfg := &gollmBackendConfig{
		maxTokens:   4096,
		temperature: 0.2,
		retry:       DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	// Determine default model for provider.
	model := cfg.model
	if model == "" {
		if info := GetLatestModel(provider); info != nil {
			model = info.ID
		} else {
			model = "gpt-4o-mini"
		}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // We handle retries ourselves.
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}

	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}

	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmBackend{
		provider: provider,
		llm:      llm,
		model:    model,
		retry:    cfg.retry,
	}, nil
}

// Name returns the provider identifier.
func (b *GollmBackend) Name() string {
	return b.provider
}

// Complete sends the conversation and blocks for the full reply text. A
// blank reply is an error of kind EmptyResponse; transient transport
// failures are retried internally before one final error surfaces.
func (b *GollmBackend) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	prompt := b.translateMessages(messages)

	if model != "" && model != b.model {
		b.llm.SetOption("model", model)
		b.model = model
	}

	return Retry(ctx, b.retry, func(ctx context.Context) (string, error) {
		text, err := b.llm.Generate(ctx, prompt)
		if err != nil {
			return "", b.classify(err)
		}
		if strings.TrimSpace(text) == "" {
			return "", &BackendError{
				Kind:     KindEmptyResponse,
				Provider: b.provider,
				Message:  "no text in response",
			}
		}
		return text, nil
	})
}

// translateMessages converts role-tagged messages into a gollm Prompt.
// System turns become the system prompt; assistant turns are prefixed so
// the flattened transcript keeps its structure.
func (b *GollmBackend) translateMessages(messages []Message) *gollm.Prompt {
	var systemPrompt string
	var parts []string

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt += msg.Content + "\n"
		case RoleUser:
			parts = append(parts, msg.Content)
		case RoleAssistant:
			if msg.Content != "" {
				parts = append(parts, "[Assistant]: "+msg.Content)
			}
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	promptOpts := []gollm.PromptOption{}
	if systemPrompt != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(systemPrompt), gollm.CacheTypeEphemeral))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// classify converts a gollm error into a BackendError. gollm does not
// expose structured status codes, so classification inspects the message
// once, here at the boundary; callers only ever see the kind.
func (b *GollmBackend) classify(err error) *BackendError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &BackendError{
			Kind:     KindTimeout,
			Provider: b.provider,
			Message:  "request deadline exceeded",
			Cause:    err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return &BackendError{
			Kind:     KindTransport,
			Provider: b.provider,
			Message:  "request cancelled",
			Cause:    err,
		}
	}

	msg := err.Error()
	msgLower := strings.ToLower(msg)
	switch {
	case strings.Contains(msgLower, "401"), strings.Contains(msgLower, "unauthorized"),
		strings.Contains(msgLower, "invalid key"), strings.Contains(msgLower, "invalid api key"),
		strings.Contains(msgLower, "api key not set"):
		return FromStatusCode(b.provider, 401, msg, err)
	case strings.Contains(msgLower, "403"), strings.Contains(msgLower, "forbidden"):
		return FromStatusCode(b.provider, 403, msg, err)
	case strings.Contains(msgLower, "429"), strings.Contains(msgLower, "rate limit"):
		return FromStatusCode(b.provider, 429, msg, err)
	case strings.Contains(msgLower, "404"), strings.Contains(msgLower, "not found"):
		return FromStatusCode(b.provider, 404, msg, err)
	case strings.Contains(msgLower, "500"), strings.Contains(msgLower, "internal server"):
		return FromStatusCode(b.provider, 500, msg, err)
	case strings.Contains(msgLower, "502"), strings.Contains(msgLower, "503"):
		return FromStatusCode(b.provider, 503, msg, err)
	case strings.Contains(msgLower, "timeout"), strings.Contains(msgLower, "deadline exceeded"):
		return &BackendError{
			Kind:     KindTimeout,
			Provider: b.provider,
			Message:  msg,
			Cause:    err,
		}
	case strings.Contains(msgLower, "no text in response"), strings.Contains(msgLower, "empty response"):
		return &BackendError{
			Kind:     KindEmptyResponse,
			Provider: b.provider,
			Message:  msg,
			Cause:    err,
		}
	default:
		// Unknown failures default to retryable transport errors.
		return &BackendError{
			Kind:      KindTransport,
			Provider:  b.provider,
			Message:   msg,
			Retryable: true,
			Cause:     err,
		}
	}
}
