package llmclient

import (
	"context"
	"strings"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry in the conversation sent to a model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemMessage creates a system Message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// UserMessage creates a user Message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage creates an assistant Message.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// Backend is the contract every model provider implements. Complete sends
// the conversation and blocks until the provider returns the full reply
// text; there is no streaming. An empty model selects the backend's
// configured default. Every non-nil error is a *BackendError.
type Backend interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic", "simple").
	Name() string

	// Complete sends a blocking request and returns the full reply text.
	Complete(ctx context.Context, model string, messages []Message) (string, error)
}

// Options configures a Backend built by New.
type Options struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// New routes a provider name to a Backend implementation. "simple" and
// "mock" select the offline backend; "claude" is an alias for anthropic;
// every other name is handed to gollm, which rejects providers it does not
// know.
func New(provider string, opts Options) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "simple", "mock":
		return NewSimpleBackend(), nil
	case "claude":
		return NewGollmBackend("anthropic", gollmOptionsFrom(opts)...)
	default:
		return NewGollmBackend(strings.ToLower(strings.TrimSpace(provider)), gollmOptionsFrom(opts)...)
	}
}

func gollmOptionsFrom(opts Options) []GollmBackendOption {
	var out []GollmBackendOption
	if opts.APIKey != "" {
		out = append(out, WithAPIKey(opts.APIKey))
	}
	if opts.Model != "" {
		out = append(out, WithModel(opts.Model))
	}
	if opts.MaxTokens > 0 {
		out = append(out, WithMaxTokens(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		out = append(out, WithTemperature(opts.Temperature))
	}
	return out
}
