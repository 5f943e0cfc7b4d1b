package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/martinemde/harness/llmclient"
	"github.com/martinemde/harness/shellexec"
)

// Corrective instructions appended to the conversation when the model
// drifts off the protocol. Each restates enough of the schema for the
// model to recover without the full system prompt.
const (
	invalidReplyCorrection = `Your previous reply was not valid JSON. Respond with exactly one JSON object matching the required schema with properly escaped quotes and backslashes. Do not include any extra text or code fences.`
	extraTextCorrection    = `Reply again with exactly one JSON object only (no extra text, no code fences). Use the schema {"type":"run|message|done","cmd?":string,"message?":string,"thought":string}.`
	emptyReplyCorrection   = `Respond again with exactly one JSON object only (no extra text, no code fences). Use the schema {"type":"run|message|done","cmd?":string,"message?":string,"thought":string}.`
	timeoutCorrection      = `Your previous reply took too long and the call was cancelled. Respond promptly with exactly one JSON object, and prefer a smaller next step.`
	unresolvableCorrection = `Your previous reply did not contain a resolvable action. Reply with exactly one JSON object whose "type" is "run", "message" or "done", with "cmd" set for run actions and "message" set for message actions.`
	steeringInstruction    = `Do not ask questions; no human can answer you. Decide the best next step yourself and reply with a run action that makes progress on the task. If you are truly blocked, reply with type "done" and explain why.`
)

// questionPatterns triggers steering on messages that read as questions
// to a human operator.
var questionPatterns = []string{
	"can you provide",
	"please provide",
	"please confirm",
	"please share",
	"please upload",
	"could you",
	"would you",
	"what is the",
	"which file",
	"do you want",
	"should i",
	"let me know",
}

func isQuestion(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if strings.HasSuffix(t, "?") {
		return true
	}
	for _, p := range questionPatterns {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

var (
	errCancelled   = errors.New("cancelled")
	errCallTimeout = errors.New("model call timed out")
)

// CommandRunner executes one shell command and streams its output. It is
// satisfied by *shellexec.Runner.
type CommandRunner interface {
	Run(ctx context.Context, command string) (<-chan shellexec.Chunk, error)
}

// RunStepOutcome is the captured output of one executed command: the
// ordered chunks as they arrived, plus the concatenated full text.
type RunStepOutcome struct {
	Chunks []shellexec.Chunk
	Full   string
}

// Outcome classifies how a run ended.
type Outcome string

const (
	// OutcomeDone covers natural completion and observed cancellation.
	OutcomeDone Outcome = "done"
	// OutcomeAborted covers exhausted budgets and fatal errors.
	OutcomeAborted Outcome = "aborted"
)

// Result is the terminal state of a run. The loop never returns an
// error: every failure is surfaced through the event sink and reflected
// here.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason"`
	Message string  `json:"message,omitempty"`
	Steps   int     `json:"steps"`
}

// loopState groups the counters owned by one running loop. The empty,
// invalid, unresolvable, timeout and message counters track consecutive
// occurrences and reset as soon as the model recovers.
type loopState struct {
	step         int
	emptyCount   int
	invalidCount int
	unresolvable int
	timeoutCount int
	messageOnly  int
	summarizing  bool
}

// Loop drives one task to completion: it owns the conversation, the
// retry counters, dispatch, and the lifecycle events. A Loop runs one
// task exactly once and is not reused.
type Loop struct {
	backend    llmclient.Backend
	runner     CommandRunner
	task       string
	config     Config
	budget     Budget
	summarizer *Summarizer
	cancel     *CancelToken

	mu           sync.Mutex
	sink         EventSink
	conversation []Turn
	state        loopState
}

// NewLoop creates a loop for one task. config may be nil for defaults.
func NewLoop(backend llmclient.Backend, runner CommandRunner, task string, config *Config) *Loop {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	cfg = cfg.withDefaults()
	return &Loop{
		backend:    backend,
		runner:     runner,
		task:       task,
		config:     cfg,
		budget:     DeriveBudget(cfg.Model, cfg.CharsPerToken, cfg.CtxMaxChars, cfg.PerTurnMaxChars),
		summarizer: NewSummarizer(backend, cfg.Model),
		cancel:     NewCancelToken(),
	}
}

// SetEventSink directs lifecycle events to sink. Call before Run.
func (l *Loop) SetEventSink(sink EventSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = sink
}

// Abort requests cancellation. The loop observes the request at its next
// suspension point, tears down any in-flight call or command, and ends
// the run with outcome done.
func (l *Loop) Abort() {
	l.cancel.Cancel()
}

// Cancelled reports whether cancellation has been requested.
func (l *Loop) Cancelled() bool {
	return l.cancel.Requested()
}

// History returns a copy of the conversation.
func (l *Loop) History() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := make([]Turn, len(l.conversation))
	copy(h, l.conversation)
	return h
}

// Budget returns the derived context budget.
func (l *Loop) Budget() Budget {
	return l.budget
}

func (l *Loop) appendTurn(t Turn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conversation = append(l.conversation, t)
}

func (l *Loop) resetConversation() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conversation = initialConversation(l.config.SystemPrompt, l.task)
}

// emit delivers one event to the sink, absorbing panics so a failing
// sink can never abort a run.
func (l *Loop) emit(kind EventKind, data map[string]interface{}) {
	l.mu.Lock()
	sink := l.sink
	l.mu.Unlock()
	if sink == nil {
		return
	}
	defer func() { _ = recover() }()
	sink.Emit(Event{Kind: kind, Timestamp: time.Now(), Data: data})
}

func (l *Loop) fail(text string) {
	l.emit(EventError, map[string]interface{}{"text": text})
}

func (l *Loop) info(text string) {
	l.emit(EventInfo, map[string]interface{}{"text": text})
}

// Run drives the conversation until the model declares completion, a
// budget is exhausted, or cancellation is observed. It always returns a
// Result, never an error, and always emits exactly one completed event.
func (l *Loop) Run(ctx context.Context) Result {
	l.mu.Lock()
	l.conversation = initialConversation(l.config.SystemPrompt, l.task)
	l.state = loopState{}
	l.mu.Unlock()

	result := l.run(ctx)

	l.emit(EventCompleted, map[string]interface{}{
		"outcome": string(result.Outcome),
		"reason":  result.Reason,
		"steps":   result.Steps,
	})
	return result
}

func (l *Loop) run(ctx context.Context) Result {
	for l.state.step = 0; l.state.step < l.config.MaxSteps; l.state.step++ {
		// 1. Observe cancellation at the top of every step.
		if l.cancel.Requested() || ctx.Err() != nil {
			return Result{Outcome: OutcomeDone, Reason: "cancelled", Steps: l.state.step}
		}

		// 2. Keep the conversation inside the context budget.
		l.maybeSummarize(ctx)
		view := l.budget.SendView(l.History())

		// 3. Call the model, racing the timeout and cancellation.
		reply, callErr := l.complete(ctx, view)
		if callErr == nil && strings.TrimSpace(reply) == "" {
			callErr = &llmclient.BackendError{
				Kind:     llmclient.KindEmptyResponse,
				Provider: l.backend.Name(),
				Message:  "no text in response",
			}
		}
		if callErr != nil {
			res, fatal := l.recoverCall(callErr)
			if fatal {
				return res
			}
			continue
		}
		l.state.emptyCount = 0
		l.state.timeoutCount = 0

		// 4. Parse exactly one action out of the reply.
		parsed, parseErr := ParseReply(reply)
		if parseErr != nil {
			res, fatal := l.recoverParse(parseErr, reply)
			if fatal {
				return res
			}
			continue
		}
		l.state.invalidCount = 0
		l.state.unresolvable = 0

		// 5. Tolerate off-protocol formatting without dispatching.
		if parsed.NonCompliant {
			l.info("Model returned extra text; requesting JSON-only format.")
			l.appendTurn(UserTurn(extraTextCorrection))
			continue
		}

		if parsed.Action.Rationale != "" {
			l.emit(EventInfo, map[string]interface{}{"role": "thought", "text": parsed.Action.Rationale})
		}

		// 6. Dispatch.
		switch parsed.Action.Type {
		case ActionRun:
			l.state.messageOnly = 0
			if res, fatal := l.dispatchRun(ctx, parsed.Action); fatal {
				return res
			}
		case ActionMessage:
			if res, fatal := l.dispatchMessage(parsed.Action); fatal {
				return res
			}
		case ActionDone:
			if strings.TrimSpace(parsed.Action.Text) != "" {
				l.emit(EventInfo, map[string]interface{}{"role": "assistant", "text": parsed.Action.Text})
			}
			return Result{Outcome: OutcomeDone, Reason: "completed", Message: parsed.Action.Text, Steps: l.state.step + 1}
		}
	}

	l.fail(fmt.Sprintf("Reached the step limit (%d) without completing the task.", l.config.MaxSteps))
	return Result{Outcome: OutcomeAborted, Reason: "step-limit", Steps: l.config.MaxSteps}
}

// recoverCall applies the retry ladder for a failed model call. It
// returns the terminal Result when the failure is fatal.
func (l *Loop) recoverCall(callErr error) (Result, bool) {
	steps := l.state.step + 1

	if errors.Is(callErr, errCancelled) {
		return Result{Outcome: OutcomeDone, Reason: "cancelled", Steps: steps}, true
	}

	timedOut := errors.Is(callErr, errCallTimeout)
	kind := llmclient.KindOf(callErr)
	if !timedOut && kind == llmclient.KindTimeout {
		timedOut = true
	}

	switch {
	case timedOut:
		l.state.timeoutCount++
		if l.state.timeoutCount >= timeoutLimit {
			l.fail(fmt.Sprintf("Model call timed out %d times in a row; giving up.", l.state.timeoutCount))
			return Result{Outcome: OutcomeAborted, Reason: "timeout-limit", Steps: steps}, true
		}
		l.info("Model call timed out; asking for a faster reply.")
		l.appendTurn(UserTurn(timeoutCorrection))
		return Result{}, false

	case kind == llmclient.KindEmptyResponse:
		l.state.emptyCount++
		if l.state.emptyCount > l.config.EmptyReplyLimit {
			l.fail(fmt.Sprintf("Provider returned empty replies after retries: %v", callErr))
			return Result{Outcome: OutcomeAborted, Reason: "empty-reply-limit", Steps: steps}, true
		}
		l.info("Provider returned no text; resending initial prompt and task.")
		l.resetConversation()
		l.appendTurn(UserTurn(emptyReplyCorrection))
		return Result{}, false

	default:
		l.fail(callErr.Error())
		return Result{Outcome: OutcomeAborted, Reason: "backend-error", Steps: steps}, true
	}
}

// recoverParse applies the retry ladder for a reply that produced no
// usable action.
func (l *Loop) recoverParse(parseErr error, reply string) (Result, bool) {
	steps := l.state.step + 1

	switch {
	case errors.Is(parseErr, ErrMissingCommand):
		// Structurally valid but incomplete: fatal, not retried.
		l.fail("Missing cmd in run action")
		return Result{Outcome: OutcomeAborted, Reason: "missing-command", Steps: steps}, true

	case errors.Is(parseErr, ErrUnresolvableType):
		l.state.unresolvable++
		if l.state.unresolvable >= unresolvableLimit {
			l.fail("Could not resolve an action type after repeated replies; giving up.")
			return Result{Outcome: OutcomeAborted, Reason: "unresolvable-action-limit", Steps: steps}, true
		}
		l.info("Reply had no resolvable action type; restating the schema.")
		l.appendTurn(UserTurn(unresolvableCorrection))
		return Result{}, false

	default:
		l.state.invalidCount++
		l.fail("Invalid provider reply (not JSON): " + HeadChars(reply, 200))
		if l.state.invalidCount >= l.config.MalformedLimit {
			return Result{Outcome: OutcomeAborted, Reason: "malformed-reply-limit", Steps: steps}, true
		}
		l.appendTurn(UserTurn(invalidReplyCorrection))
		return Result{}, false
	}
}

// complete performs one model call under the per-call timeout while
// polling the cancellation token. A poll tick never cancels the call;
// only the token or the deadline does.
func (l *Loop) complete(ctx context.Context, view []Turn) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.config.CallTimeout)
	defer cancel()

	l.emit(EventCallStart, map[string]interface{}{"model": l.config.Model, "turns": len(view)})
	start := time.Now()

	type callResult struct {
		text string
		err  error
	}
	resultCh := make(chan callResult, 1)
	go func() {
		text, err := l.backend.Complete(callCtx, l.config.Model, ToMessages(view))
		resultCh <- callResult{text: text, err: err}
	}()

	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case out := <-resultCh:
			duration := time.Since(start).Seconds()
			switch {
			case out.err == nil:
				l.emit(EventCallEnd, map[string]interface{}{"ok": true, "duration": duration})
				return out.text, nil
			case l.cancel.Requested() || ctx.Err() != nil:
				l.emit(EventCallEnd, map[string]interface{}{"ok": false, "duration": duration, "cancelled": true})
				return "", errCancelled
			case callCtx.Err() == context.DeadlineExceeded:
				l.emit(EventCallEnd, map[string]interface{}{"ok": false, "duration": duration, "error": out.err.Error()})
				return "", errCallTimeout
			default:
				l.emit(EventCallEnd, map[string]interface{}{"ok": false, "duration": duration, "error": out.err.Error()})
				return "", out.err
			}
		case <-ticker.C:
			if l.cancel.Requested() || ctx.Err() != nil {
				cancel()
				l.emit(EventCallEnd, map[string]interface{}{"ok": false, "duration": time.Since(start).Seconds(), "cancelled": true})
				return "", errCancelled
			}
			if callCtx.Err() == context.DeadlineExceeded {
				l.emit(EventCallEnd, map[string]interface{}{"ok": false, "duration": time.Since(start).Seconds(), "error": errCallTimeout.Error()})
				return "", errCallTimeout
			}
		}
	}
}

// dispatchRun executes the command, streams its output, and appends the
// result turn. Cancellation observed mid-command ends the run without
// appending a turn.
func (l *Loop) dispatchRun(ctx context.Context, action Action) (Result, bool) {
	l.emit(EventCommandStart, map[string]interface{}{"command": action.Command})

	outcome, err := l.runCommand(ctx, action.Command)
	if err != nil {
		if errors.Is(err, errCancelled) {
			return Result{Outcome: OutcomeDone, Reason: "cancelled", Steps: l.state.step + 1}, true
		}
		l.fail(fmt.Sprintf("Command failed to start: %v", err))
		return Result{Outcome: OutcomeAborted, Reason: "spawn-failure", Steps: l.state.step + 1}, true
	}

	var content string
	if l.config.TruncateLimit > 0 {
		excerpt := TailChars(outcome.Full, l.config.TruncateLimit)
		content = fmt.Sprintf("Command: %s\nOutput (truncated to %d chars):\n%s", action.Command, l.config.TruncateLimit, excerpt)
	} else {
		content = fmt.Sprintf("Command: %s\nOutput (full):\n%s", action.Command, outcome.Full)
	}
	l.appendTurn(UserTurn(content))
	return Result{}, false
}

// runCommand streams one command's output, forwarding each chunk to the
// event sink as it arrives and polling for cancellation between chunks.
func (l *Loop) runCommand(ctx context.Context, command string) (RunStepOutcome, error) {
	cmdCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, err := l.runner.Run(cmdCtx, command)
	if err != nil {
		return RunStepOutcome{}, err
	}

	var outcome RunStepOutcome
	var full strings.Builder
	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	cancelled := false
	for chunks != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			outcome.Chunks = append(outcome.Chunks, chunk)
			full.WriteString(chunk.Text)
			l.emit(EventOutputChunk, map[string]interface{}{"channel": string(chunk.Channel), "text": chunk.Text})
		case <-ticker.C:
			if l.cancel.Requested() || ctx.Err() != nil {
				cancelled = true
				cancel()
				// Drain until the runner closes the channel so the child
				// process is fully reaped before returning.
				for range chunks {
				}
				chunks = nil
			}
		}
	}
	outcome.Full = full.String()
	if cancelled {
		return outcome, errCancelled
	}
	return outcome, nil
}

// dispatchMessage records a status message and applies the anti-stall
// ladder: questions and repeated message-only turns draw a steering
// instruction, and six in a row abort the run.
func (l *Loop) dispatchMessage(action Action) (Result, bool) {
	l.state.messageOnly++
	l.emit(EventInfo, map[string]interface{}{"role": "assistant", "text": action.Text})
	l.appendTurn(AssistantTurn(action.Text))

	if l.state.messageOnly >= messageOnlyLimit {
		l.fail("Too many consecutive messages without action; stopping.")
		return Result{Outcome: OutcomeAborted, Reason: "message-limit", Steps: l.state.step + 1}, true
	}
	if l.state.messageOnly >= messageSteerAt || isQuestion(action.Text) {
		l.info("Steering the model away from questions toward concrete commands.")
		l.appendTurn(UserTurn(steeringInstruction))
	}
	return Result{}, false
}

// maybeSummarize compresses the conversation when its estimated size
// exceeds the context budget. The summarizing flag is a reentrancy
// guard: a step that finds summarization already in flight skips it
// rather than nesting.
func (l *Loop) maybeSummarize(ctx context.Context) {
	if l.state.summarizing {
		return
	}
	conv := l.History()
	if EstimateChars(conv) <= l.budget.CtxMaxChars || !l.summarizer.Needed(conv) {
		return
	}
	l.state.summarizing = true
	defer func() { l.state.summarizing = false }()

	replaced, ok := l.summarizer.Summarize(ctx, conv)
	if !ok {
		return
	}
	l.mu.Lock()
	l.conversation = replaced
	l.mu.Unlock()
	l.info("Compressed earlier conversation turns into a summary.")
}
