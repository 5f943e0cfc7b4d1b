package agentloop

import "time"

// Defaults for the caller-tunable knobs.
const (
	DefaultMaxSteps        = 50
	DefaultCallTimeout     = 600 * time.Second
	DefaultEmptyReplyLimit = 2
	DefaultMalformedLimit  = 3
	DefaultPollInterval    = 500 * time.Millisecond
)

// Fixed retry ladders. These are part of the protocol rather than tuning
// knobs, so they are not exposed on Config.
const (
	// unresolvableLimit bounds consecutive replies whose action type
	// could not be resolved.
	unresolvableLimit = 3
	// timeoutLimit bounds consecutive model calls that hit the per-call
	// timeout.
	timeoutLimit = 3
	// messageSteerAt is the consecutive message-only count at which a
	// steering instruction is injected.
	messageSteerAt = 2
	// messageOnlyLimit is the consecutive message-only count that aborts
	// the run. No human is listening, so unlimited status messages can
	// never make progress.
	messageOnlyLimit = 6
)

// Config carries the loop's tunables. The zero value is usable: every
// zero field is replaced by its default (or derived from the model name)
// when the loop starts.
type Config struct {
	// Model is passed to the backend on every call and drives the
	// context-budget heuristic.
	Model string

	// SystemPrompt overrides the built-in system prompt.
	SystemPrompt string

	// MaxSteps caps loop iterations, counting corrective retries.
	MaxSteps int

	// CallTimeout bounds each individual model call.
	CallTimeout time.Duration

	// EmptyReplyLimit bounds consecutive empty replies before aborting.
	EmptyReplyLimit int

	// MalformedLimit bounds consecutive unparseable replies before
	// aborting.
	MalformedLimit int

	// TruncateLimit tail-truncates command output to this many characters
	// before it is appended to the conversation. Zero sends full output.
	TruncateLimit int

	// CtxMaxChars and PerTurnMaxChars override the derived context
	// budget. Zero derives both from the model name.
	CtxMaxChars     int
	PerTurnMaxChars int

	// CharsPerToken converts the model's token window into characters
	// when deriving the budget. Zero means DefaultCharsPerToken.
	CharsPerToken float64

	// PollInterval is the cadence at which cancellation is observed while
	// a model call or command is in flight.
	PollInterval time.Duration
}

// DefaultConfig returns the standard configuration for a model.
func DefaultConfig(model string) Config {
	return Config{Model: model}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.EmptyReplyLimit <= 0 {
		c.EmptyReplyLimit = DefaultEmptyReplyLimit
	}
	if c.MalformedLimit <= 0 {
		c.MalformedLimit = DefaultMalformedLimit
	}
	if c.CharsPerToken <= 0 {
		c.CharsPerToken = DefaultCharsPerToken
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}
