// Package agentloop implements the execution core of an autonomous
// coding agent.
//
// It drives a conversation with a language-model backend that proposes
// exactly one structured action per turn (run a shell command, emit a
// status message, or declare completion), executes that action, and
// feeds the result back into the conversation until the task is done.
//
// The loop is self-correcting: malformed, fenced, duplicated or empty
// replies draw a bounded number of corrective instructions instead of
// aborting, and repeated message-only turns are steered back toward
// action, since no human is available to answer.
//
// # Architecture
//
// The package is organized around these core concepts:
//
//   - Loop: The orchestrator holding the conversation, retry counters,
//     dispatch, and lifecycle events for exactly one run.
//   - Action / ParseReply: The strict one-JSON-object protocol and the
//     tolerant parser that extracts an action from a noisy reply.
//   - Budget / Summarizer: Character-budget trimming of the send view,
//     with model-assisted summarization when trimming is not enough.
//   - CancelToken: Explicit cooperative cancellation observed while
//     awaiting the model and between output chunks.
//   - EventEmitter: Typed event stream for host application integration.
//
// # Quick Start
//
//	backend, _ := llmclient.New("anthropic", llmclient.Options{APIKey: key})
//	runner := shellexec.NewRunner("/path/to/project")
//	cfg := agentloop.DefaultConfig("claude-opus-4-6")
//	loop := agentloop.NewLoop(backend, runner, "Fix the failing tests", &cfg)
//
//	emitter := agentloop.NewEventEmitter(256)
//	loop.SetEventSink(emitter)
//	go func() {
//	    defer emitter.Close()
//	    result := loop.Run(ctx)
//	    fmt.Println(result.Outcome, result.Reason)
//	}()
//
//	for event := range emitter.Events() {
//	    fmt.Printf("[%s] %v\n", event.Kind, event.Data)
//	}
package agentloop
