package llmclient

import (
	"context"
	"encoding/json"
	"testing"
)

func TestNewRoutesSimple(t *testing.T) {
	for _, name := range []string{"simple", "mock", "", "  Simple "} {
		backend, err := New(name, Options{})
		if err != nil {
			t.Fatalf("New(%q): unexpected error: %v", name, err)
		}
		if backend.Name() != "simple" {
			t.Errorf("New(%q) routed to %q", name, backend.Name())
		}
	}
}

func TestSimpleBackendCompleteIsValidAction(t *testing.T) {
	backend := NewSimpleBackend()
	reply, err := backend.Complete(context.Background(), "local-simulate", []Message{
		SystemMessage("system"),
		UserMessage("Task: do something"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var action struct {
		Type    string `json:"type"`
		Cmd     string `json:"cmd"`
		Thought string `json:"thought"`
	}
	if err := json.Unmarshal([]byte(reply), &action); err != nil {
		t.Fatalf("reply is not valid JSON: %v", err)
	}
	if action.Type != "run" {
		t.Errorf("expected run action, got %q", action.Type)
	}
	if action.Cmd == "" {
		t.Error("expected a non-empty cmd")
	}
	if action.Thought == "" {
		t.Error("expected a non-empty thought")
	}
}

func TestSimpleBackendCancelled(t *testing.T) {
	backend := NewSimpleBackend()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := backend.Complete(ctx, "", nil)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if KindOf(err) != KindTransport {
		t.Errorf("expected transport kind, got %v", KindOf(err))
	}
}

func TestMessageConstructors(t *testing.T) {
	tests := []struct {
		msg  Message
		role Role
	}{
		{SystemMessage("a"), RoleSystem},
		{UserMessage("b"), RoleUser},
		{AssistantMessage("c"), RoleAssistant},
	}
	for _, tt := range tests {
		if tt.msg.Role != tt.role {
			t.Errorf("expected role %q, got %q", tt.role, tt.msg.Role)
		}
	}
}
