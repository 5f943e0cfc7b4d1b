package agentloop

import (
	"reflect"
	"strings"
	"testing"
)

func TestDeriveBudgetFromModelName(t *testing.T) {
	b := DeriveBudget("claude-opus-4-6", 0, 0, 0)
	if b.CtxMaxChars != 800_000 {
		t.Errorf("expected ctx max 800000, got %d", b.CtxMaxChars)
	}
	if b.PerTurnMaxChars != perTurnSoftCapChars {
		t.Errorf("expected per-turn cap %d, got %d", perTurnSoftCapChars, b.PerTurnMaxChars)
	}
}

func TestDeriveBudgetHardCeiling(t *testing.T) {
	b := DeriveBudget("gemini-3-pro", 4, 0, 0)
	if b.CtxMaxChars != ctxHardCapChars {
		t.Errorf("expected ceiling %d, got %d", ctxHardCapChars, b.CtxMaxChars)
	}
}

func TestDeriveBudgetFloors(t *testing.T) {
	b := DeriveBudget("", 4, 1, 1)
	if b.CtxMaxChars != minCtxChars {
		t.Errorf("expected ctx floor %d, got %d", minCtxChars, b.CtxMaxChars)
	}
	if b.PerTurnMaxChars != minPerTurnChars {
		t.Errorf("expected per-turn floor %d, got %d", minPerTurnChars, b.PerTurnMaxChars)
	}
}

func TestDeriveBudgetOverrides(t *testing.T) {
	b := DeriveBudget("gpt-5.2", 4, 120_000, 12_000)
	if b.CtxMaxChars != 120_000 {
		t.Errorf("expected ctx override 120000, got %d", b.CtxMaxChars)
	}
	if b.PerTurnMaxChars != 12_000 {
		t.Errorf("expected per-turn override 12000, got %d", b.PerTurnMaxChars)
	}
}

func longConversation() []Turn {
	conv := []Turn{
		SystemTurn("You are an agent."),
		UserTurn("Task: fix the build"),
	}
	for i := 0; i < 40; i++ {
		conv = append(conv, UserTurn("Command: make\nOutput (full):\n"+strings.Repeat("line of output\n", 50)))
	}
	return conv
}

func TestSendViewKeepsSystemAndNewest(t *testing.T) {
	conv := longConversation()
	b := Budget{CtxMaxChars: minCtxChars, PerTurnMaxChars: minPerTurnChars}
	view := b.SendView(conv)

	if len(view) == 0 {
		t.Fatal("expected non-empty view")
	}
	if view[0].Role != RoleSystem {
		t.Errorf("expected view to start with the system turn, got role %q", view[0].Role)
	}
	last := view[len(view)-1]
	wantTail := TailChars(conv[len(conv)-1].Content, b.PerTurnMaxChars)
	if last.Content != wantTail {
		t.Error("expected the most recent turn to always be included")
	}
	if len(view) >= len(conv) {
		t.Errorf("expected trimming for conversation of %d turns, got view of %d", len(conv), len(view))
	}
}

func TestSendViewWithinBudget(t *testing.T) {
	conv := longConversation()
	b := Budget{CtxMaxChars: minCtxChars, PerTurnMaxChars: 1_000}
	view := b.SendView(conv)

	total := 0
	for _, turn := range view[1:] { // the system turn is exempt by contract
		total += estimateTurn(turn)
	}
	if total+estimateTurn(view[0]) > b.CtxMaxChars {
		t.Errorf("view estimate %d exceeds budget %d", total+estimateTurn(view[0]), b.CtxMaxChars)
	}
}

func TestSendViewIdempotent(t *testing.T) {
	conv := longConversation()
	b := Budget{CtxMaxChars: minCtxChars, PerTurnMaxChars: minPerTurnChars}
	once := b.SendView(conv)
	twice := b.SendView(once)
	if !reflect.DeepEqual(once, twice) {
		t.Error("expected re-trimming a trimmed view to be a no-op")
	}
}

func TestSendViewDoesNotMutate(t *testing.T) {
	big := strings.Repeat("x", 20_000)
	conv := []Turn{
		SystemTurn("sys"),
		UserTurn(big),
		AssistantTurn("short"),
	}
	b := Budget{CtxMaxChars: minCtxChars, PerTurnMaxChars: minPerTurnChars}
	_ = b.SendView(conv)
	if conv[1].Content != big {
		t.Error("expected the live conversation to be untouched")
	}
}

func TestSendViewTruncatesOversizedTurnKeepingTail(t *testing.T) {
	content := strings.Repeat("a", 9_000) + "THE-END"
	conv := []Turn{
		SystemTurn("sys"),
		UserTurn(content),
	}
	b := Budget{CtxMaxChars: minCtxChars, PerTurnMaxChars: minPerTurnChars}
	view := b.SendView(conv)

	got := view[len(view)-1].Content
	if len(got) != minPerTurnChars {
		t.Errorf("expected truncated content of %d chars, got %d", minPerTurnChars, len(got))
	}
	if !strings.HasSuffix(got, "THE-END") {
		t.Error("expected truncation to keep the tail")
	}
}

func TestSendViewSystemOnly(t *testing.T) {
	conv := []Turn{SystemTurn("sys")}
	b := Budget{CtxMaxChars: minCtxChars, PerTurnMaxChars: minPerTurnChars}
	view := b.SendView(conv)
	if len(view) != 1 || view[0].Role != RoleSystem {
		t.Errorf("expected just the system turn, got %d turns", len(view))
	}
}

func TestEstimateCharsGrowsWithContent(t *testing.T) {
	small := EstimateChars([]Turn{UserTurn("hi")})
	large := EstimateChars([]Turn{UserTurn(strings.Repeat("hi", 500))})
	if small >= large {
		t.Errorf("expected estimate to grow with content: small=%d large=%d", small, large)
	}
	if small <= 0 {
		t.Errorf("expected positive estimate, got %d", small)
	}
}
