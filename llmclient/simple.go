package llmclient

import "context"

// SimpleBackend is a deterministic offline Backend for tests and local
// demos. Every completion proposes the same safe inspection command, so a
// loop driven by it exercises the full dispatch path without network access.
type SimpleBackend struct{}

// NewSimpleBackend returns the offline backend.
func NewSimpleBackend() *SimpleBackend {
	return &SimpleBackend{}
}

// Name returns "simple".
func (*SimpleBackend) Name() string {
	return "simple"
}

// Complete returns a fixed run action.
func (*SimpleBackend) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	select {
	case <-ctx.Done():
		return "", &BackendError{
			Kind:     KindTransport,
			Provider: "simple",
			Message:  "request cancelled",
			Cause:    ctx.Err(),
		}
	default:
	}
	return `{"type":"run","cmd":"git status --porcelain","thought":"Inspect workspace before changes."}`, nil
}
