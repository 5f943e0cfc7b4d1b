package agentloop

import (
	"context"
	"strings"
	"testing"

	"github.com/martinemde/harness/llmclient"
)

func conversationOf(n int) []Turn {
	conv := []Turn{
		SystemTurn("You are an agent."),
		UserTurn("Task: fix the build"),
	}
	for len(conv) < n {
		conv = append(conv, UserTurn("Command: make\nOutput (full):\nstep output"))
	}
	return conv
}

func TestSummarizerNotNeededForShortConversations(t *testing.T) {
	s := NewSummarizer(&fakeBackend{}, "test-model")
	for n := 0; n <= 10; n++ {
		if s.Needed(conversationOf(n)) {
			t.Errorf("expected Needed to be false for %d turns", n)
		}
	}
	if !s.Needed(conversationOf(11)) {
		t.Error("expected Needed to be true for 11 turns")
	}
}

func TestSummarizerNeverCalledForShortConversations(t *testing.T) {
	backend := &fakeBackend{steps: []fakeStep{{reply: "should never be used"}}}
	s := NewSummarizer(backend, "test-model")

	out, ok := s.Summarize(context.Background(), conversationOf(10))
	if ok {
		t.Error("expected no summarization below the turn threshold")
	}
	if len(out) != 10 {
		t.Errorf("expected conversation unchanged, got %d turns", len(out))
	}
	if backend.callCount() != 0 {
		t.Errorf("expected no model calls, got %d", backend.callCount())
	}
}

func TestSummarizeReplacesMiddle(t *testing.T) {
	backend := &fakeBackend{steps: []fakeStep{{reply: "tried make twice; fixed lexer.go; tests now pass"}}}
	s := NewSummarizer(backend, "test-model")

	conv := conversationOf(12)
	conv[11] = AssistantTurn("latest status")

	out, ok := s.Summarize(context.Background(), conv)
	if !ok {
		t.Fatal("expected summarization to succeed")
	}
	if len(out) != summaryHeadTurns+1+summaryTailTurns {
		t.Fatalf("expected %d turns, got %d", summaryHeadTurns+1+summaryTailTurns, len(out))
	}
	if out[0] != conv[0] || out[1] != conv[1] {
		t.Error("expected the head turns preserved verbatim")
	}
	summary := out[summaryHeadTurns]
	if summary.Role != RoleUser {
		t.Errorf("expected a synthetic user turn, got role %q", summary.Role)
	}
	if !strings.HasPrefix(summary.Content, summaryLabelPrefix) {
		t.Errorf("expected the summary label prefix, got %q", summary.Content)
	}
	if !strings.Contains(summary.Content, "fixed lexer.go") {
		t.Error("expected the model summary text in the synthetic turn")
	}
	if out[len(out)-1] != conv[len(conv)-1] {
		t.Error("expected the tail turns preserved verbatim")
	}

	// The request carries the instruction plus the role-tagged middle span.
	backend.mu.Lock()
	call := backend.calls[0]
	backend.mu.Unlock()
	if len(call) != 2 || call[0].Role != llmclient.RoleSystem {
		t.Fatalf("expected system+user request, got %d messages", len(call))
	}
	if call[0].Content != summaryInstruction {
		t.Error("expected the fixed summarization instruction")
	}
	if !strings.Contains(call[1].Content, "[user]") {
		t.Errorf("expected role-tagged middle span, got %q", call[1].Content)
	}
	if strings.Contains(call[1].Content, "latest status") {
		t.Error("expected tail turns excluded from the compressed span")
	}
}

func TestSummarizeFailureLeavesConversationUntouched(t *testing.T) {
	failing := &fakeBackend{steps: []fakeStep{
		{err: &llmclient.BackendError{Kind: llmclient.KindTransport, Provider: "fake", Message: "boom"}},
	}}
	conv := conversationOf(12)

	out, ok := NewSummarizer(failing, "test-model").Summarize(context.Background(), conv)
	if ok {
		t.Error("expected summarization failure")
	}
	if len(out) != len(conv) {
		t.Errorf("expected conversation unchanged on failure, got %d turns", len(out))
	}
}

func TestSummarizeEmptyReplyLeavesConversationUntouched(t *testing.T) {
	blank := &fakeBackend{steps: []fakeStep{{reply: "   \n"}}}
	conv := conversationOf(12)

	out, ok := NewSummarizer(blank, "test-model").Summarize(context.Background(), conv)
	if ok {
		t.Error("expected a blank summary to be rejected")
	}
	if len(out) != len(conv) {
		t.Errorf("expected conversation unchanged, got %d turns", len(out))
	}
}
