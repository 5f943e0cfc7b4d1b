package agentloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/martinemde/harness/llmclient"
)

// Summarization window. The head keeps the system prompt and the task,
// the tail keeps the live working context; only the span between them is
// compressed.
const (
	summaryHeadTurns   = 2
	summaryTailTurns   = 4
	summaryMinTurns    = 10
	summaryLabelPrefix = "Summary of the earlier part of this session:\n"
	summaryInstruction = "You are compressing the middle of an autonomous coding session. Write a compact summary that preserves: the actions tried and their outcomes, files created or modified, key discoveries about the codebase, and the most recent intent. Keep exact file paths, command names and error messages where they matter. Reply with the summary text only."
)

// Summarizer collapses a window of older turns into one synthetic turn
// via a secondary model call.
type Summarizer struct {
	backend llmclient.Backend
	model   string
}

// NewSummarizer creates a Summarizer that calls backend with model.
func NewSummarizer(backend llmclient.Backend, model string) *Summarizer {
	return &Summarizer{backend: backend, model: model}
}

// Needed reports whether conv is long enough to summarize: more than ten
// turns, and more than the head and tail windows combined.
func (s *Summarizer) Needed(conv []Turn) bool {
	return len(conv) > summaryMinTurns && len(conv) > summaryHeadTurns+summaryTailTurns
}

// Summarize compresses the middle of conv into one synthetic user turn
// and returns the replacement conversation. On an empty or failed summary
// it returns conv unchanged and false; the caller falls back to
// truncation on the next send. The input slice is never mutated.
func (s *Summarizer) Summarize(ctx context.Context, conv []Turn) ([]Turn, bool) {
	if !s.Needed(conv) {
		return conv, false
	}
	head := conv[:summaryHeadTurns]
	tail := conv[len(conv)-summaryTailTurns:]
	middle := conv[summaryHeadTurns : len(conv)-summaryTailTurns]

	var b strings.Builder
	for _, t := range middle {
		fmt.Fprintf(&b, "[%s] %s\n", t.Role, t.Content)
	}

	reply, err := s.backend.Complete(ctx, s.model, []llmclient.Message{
		llmclient.SystemMessage(summaryInstruction),
		llmclient.UserMessage(b.String()),
	})
	if err != nil || strings.TrimSpace(reply) == "" {
		return conv, false
	}

	out := make([]Turn, 0, summaryHeadTurns+1+summaryTailTurns)
	out = append(out, head...)
	out = append(out, UserTurn(summaryLabelPrefix+strings.TrimSpace(reply)))
	out = append(out, tail...)
	return out, true
}
