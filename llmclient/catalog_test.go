package llmclient

import "testing"

func TestGetModelInfo(t *testing.T) {
	info := GetModelInfo("claude-sonnet-4-5")
	if info == nil {
		t.Fatal("expected catalog entry for claude-sonnet-4-5")
	}
	if info.Provider != "anthropic" {
		t.Errorf("expected provider anthropic, got %q", info.Provider)
	}
	if info.ContextWindow != 200000 {
		t.Errorf("expected context window 200000, got %d", info.ContextWindow)
	}
}

func TestGetModelInfoByAlias(t *testing.T) {
	info := GetModelInfo("sonnet")
	if info == nil {
		t.Fatal("expected alias lookup to resolve")
	}
	if info.ID != "claude-sonnet-4-5" {
		t.Errorf("alias sonnet resolved to %q", info.ID)
	}
}

func TestGetModelInfoUnknown(t *testing.T) {
	if info := GetModelInfo("not-a-model"); info != nil {
		t.Errorf("expected nil for unknown model, got %+v", info)
	}
}

func TestListModelsByProvider(t *testing.T) {
	models := ListModels("openai")
	if len(models) == 0 {
		t.Fatal("expected openai models in catalog")
	}
	for _, m := range models {
		if m.Provider != "openai" {
			t.Errorf("filter leaked model from provider %q", m.Provider)
		}
	}

	all := ListModels("")
	if len(all) < len(models) {
		t.Errorf("unfiltered list (%d) smaller than filtered (%d)", len(all), len(models))
	}
}

func TestListModelsSimpleProvider(t *testing.T) {
	models := ListModels("simple")
	if len(models) != 3 {
		t.Fatalf("expected 3 offline models, got %d", len(models))
	}
}

func TestGetLatestModel(t *testing.T) {
	info := GetLatestModel("anthropic")
	if info == nil {
		t.Fatal("expected a latest anthropic model")
	}
	if info.ID != "claude-opus-4-6" {
		t.Errorf("expected claude-opus-4-6 first, got %q", info.ID)
	}
	if GetLatestModel("no-such-provider") != nil {
		t.Error("expected nil for unknown provider")
	}
}

func TestGuessContextTokens(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"claude-sonnet-4-5", 200000}, // catalog hit
		{"gpt-5.2", 1047576},          // catalog hit beats heuristic
		{"gpt-5-turbo-2027", 400_000}, // heuristic
		{"gpt-4o-2024-08-06", 128_000},
		{"gpt-3.5-turbo", 16_384},
		{"claude-9-hypothetical", 200_000},
		{"gemini-1.5-flash-8b", 1_000_000},
		{"deepseek-coder", 128_000},
		{"grok-17", 128_000},
		{"", 128_000},
		{"mystery-model", 128_000},
	}

	for _, tt := range tests {
		got := GuessContextTokens(tt.model)
		if got != tt.want {
			t.Errorf("GuessContextTokens(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
}
