package agentloop

import (
	"errors"
	"testing"
)

func TestParseReplySingleObject(t *testing.T) {
	res, err := ParseReply(`{"type":"run","cmd":"ls -la","thought":"inspect the tree"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NonCompliant {
		t.Error("expected compliant, got non-compliant")
	}
	if res.Action.Type != ActionRun {
		t.Errorf("expected type %q, got %q", ActionRun, res.Action.Type)
	}
	if res.Action.Command != "ls -la" {
		t.Errorf("expected command %q, got %q", "ls -la", res.Action.Command)
	}
	if res.Action.Rationale != "inspect the tree" {
		t.Errorf("expected rationale %q, got %q", "inspect the tree", res.Action.Rationale)
	}
}

func TestParseReplyBackToBackObjects(t *testing.T) {
	res, err := ParseReply(`{"type":"done"}{"type":"message","message":"hi"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.NonCompliant {
		t.Error("expected non-compliant for two objects")
	}
	if res.Action.Type != ActionDone {
		t.Errorf("expected first object to win with type %q, got %q", ActionDone, res.Action.Type)
	}
}

func TestParseReplyFencedEqualsUnfenced(t *testing.T) {
	raw := `{"type":"run","cmd":"go test ./...","thought":"baseline"}`
	fenced := "```json\n" + raw + "\n```"

	plain, err := ParseReply(raw)
	if err != nil {
		t.Fatalf("unexpected error for plain reply: %v", err)
	}
	wrapped, err := ParseReply(fenced)
	if err != nil {
		t.Fatalf("unexpected error for fenced reply: %v", err)
	}
	if plain != wrapped {
		t.Errorf("expected fenced parse %+v to equal unfenced %+v", wrapped, plain)
	}
	if wrapped.NonCompliant {
		t.Error("expected fenced reply to be compliant")
	}
}

func TestParseReplyUnlabeledFence(t *testing.T) {
	res, err := ParseReply("```\n{\"type\":\"done\",\"message\":\"all tests pass\"}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action.Type != ActionDone {
		t.Errorf("expected type %q, got %q", ActionDone, res.Action.Type)
	}
	if res.Action.Text != "all tests pass" {
		t.Errorf("expected message %q, got %q", "all tests pass", res.Action.Text)
	}
}

func TestParseReplyLeadingProseTolerated(t *testing.T) {
	res, err := ParseReply(`Sure, here is the action: {"type":"run","cmd":"git status"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NonCompliant {
		t.Error("expected a single object with leading prose to stay compliant")
	}
	if res.Action.Command != "git status" {
		t.Errorf("expected command %q, got %q", "git status", res.Action.Command)
	}
}

func TestParseReplyTrailingProseNonCompliant(t *testing.T) {
	res, err := ParseReply(`{"type":"run","cmd":"git status"} hope that helps!`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.NonCompliant {
		t.Error("expected trailing prose to be flagged non-compliant")
	}
}

func TestParseReplyNoJSON(t *testing.T) {
	_, err := ParseReply("I am not sure what to do next.")
	if !errors.Is(err, ErrNoJSON) {
		t.Errorf("expected ErrNoJSON, got %v", err)
	}
}

func TestParseReplyThoughtBackfill(t *testing.T) {
	res, err := ParseReply(`{"type":"run","cmd":"ls"}{"thought":"look around first"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action.Rationale != "look around first" {
		t.Errorf("expected backfilled rationale, got %q", res.Action.Rationale)
	}
	if !res.NonCompliant {
		t.Error("expected two objects to be flagged non-compliant")
	}
}

func TestParseReplyPresentThoughtBlocksBackfill(t *testing.T) {
	res, err := ParseReply(`{"type":"run","cmd":"ls","thought":""}{"thought":"other"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action.Rationale != "" {
		t.Errorf("expected empty rationale to stay empty, got %q", res.Action.Rationale)
	}
}

func TestParseReplyInfersRunFromCmd(t *testing.T) {
	res, err := ParseReply(`{"cmd":"make test","thought":"run the suite"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action.Type != ActionRun {
		t.Errorf("expected inferred type %q, got %q", ActionRun, res.Action.Type)
	}
}

func TestParseReplyInfersMessageFromText(t *testing.T) {
	res, err := ParseReply(`{"message":"halfway through the refactor"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action.Type != ActionMessage {
		t.Errorf("expected inferred type %q, got %q", ActionMessage, res.Action.Type)
	}
	if res.Action.Text != "halfway through the refactor" {
		t.Errorf("unexpected message text %q", res.Action.Text)
	}
}

func TestParseReplyUnresolvableType(t *testing.T) {
	_, err := ParseReply(`{"thought":"pondering"}`)
	if !errors.Is(err, ErrUnresolvableType) {
		t.Errorf("expected ErrUnresolvableType, got %v", err)
	}
}

func TestParseReplyRunWithoutCmd(t *testing.T) {
	for _, reply := range []string{
		`{"type":"run"}`,
		`{"type":"run","cmd":""}`,
		`{"type":"run","cmd":"   "}`,
	} {
		_, err := ParseReply(reply)
		if !errors.Is(err, ErrMissingCommand) {
			t.Errorf("ParseReply(%s): expected ErrMissingCommand, got %v", reply, err)
		}
	}
}

func TestParseReplyCaseInsensitiveType(t *testing.T) {
	res, err := ParseReply(`{"type":"DONE","message":"finished"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Action.Type != ActionDone {
		t.Errorf("expected type %q, got %q", ActionDone, res.Action.Type)
	}
}

func TestStripFenceOnlyWhenFullyWrapped(t *testing.T) {
	in := "run ```echo hi``` now {\"type\":\"done\"}"
	if got := stripFence(in); got != in {
		t.Errorf("expected inner backticks to be left alone, got %q", got)
	}
}

func TestNormalizeCommandJoinsLines(t *testing.T) {
	got := normalizeCommand("git status\n\nls -la\n")
	want := "git status && ls -la"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestNormalizeCommandKeepsHereDoc(t *testing.T) {
	cmd := "cat > hello.txt << 'EOF'\nhello\nEOF"
	if got := normalizeCommand(cmd); got != cmd {
		t.Errorf("expected here-doc command unchanged, got %q", got)
	}
}

func TestNormalizeCommandKeepsInterpreterScript(t *testing.T) {
	cmd := "python3 -\nprint('hi')\nprint('bye')"
	if got := normalizeCommand(cmd); got != cmd {
		t.Errorf("expected interpreter script unchanged, got %q", got)
	}
}

func TestNormalizeCommandSingleLineUntouched(t *testing.T) {
	cmd := "grep -rn 'TODO' ."
	if got := normalizeCommand(cmd); got != cmd {
		t.Errorf("expected single-line command unchanged, got %q", got)
	}
}
