// Package llmclient is the model backend layer for the agent harness. It
// wraps the gollm library (github.com/teilomillet/gollm) behind one blocking
// contract: Complete(ctx, model, messages) returns the full reply text.
// Every failure is classified into a closed set of error kinds that callers
// dispatch on with errors.As, never by matching message text.
//
// # Architecture
//
//   - Backend: the provider contract (Name + Complete) plus a New factory
//     that routes provider names to implementations.
//   - GollmBackend: the production implementation, translating plain
//     role-tagged messages into gollm prompts for openai, anthropic, gemini
//     and the other providers gollm supports.
//   - SimpleBackend: a deterministic offline implementation for tests and
//     local demos.
//   - BackendError / ErrorKind: the closed failure taxonomy (Timeout,
//     EmptyResponse, Transport, Auth).
//   - Retry: exponential-backoff retry for transient transport failures,
//     applied inside GollmBackend so callers only ever see final outcomes.
//
// # Quick Start
//
//	backend, err := llmclient.New("anthropic", llmclient.Options{Model: "claude-sonnet-4-5"})
//	if err != nil { ... }
//
//	reply, err := backend.Complete(ctx, "", []llmclient.Message{
//	    llmclient.SystemMessage("You are a terse assistant."),
//	    llmclient.UserMessage("Say hello."),
//	})
//
// Failures carry a kind:
//
//	var be *llmclient.BackendError
//	if errors.As(err, &be) && be.Kind == llmclient.KindAuth { ... }
//
// # Model Catalog
//
// A built-in catalog of known models supplies context-window sizes for
// budget derivation and model listings for the CLI and HTTP service:
//
//	info := llmclient.GetModelInfo("claude-sonnet-4-5")
//	tokens := llmclient.GuessContextTokens("gpt-5.2")
//	models := llmclient.ListModels("openai")
package llmclient
