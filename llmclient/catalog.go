package llmclient

import "strings"

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	DisplayName   string   `json:"display_name"`
	ContextWindow int      `json:"context_window"`
	MaxOutput     int      `json:"max_output,omitempty"`
	Aliases       []string `json:"aliases,omitempty"`
}

// Models is the built-in model catalog (February 2026).
var Models = []ModelInfo{
	// Anthropic
	{
		ID: "claude-opus-4-6", Provider: "anthropic", DisplayName: "Claude Opus 4.6",
		ContextWindow: 200000, MaxOutput: 32768,
		Aliases: []string{"opus", "claude-opus"},
	},
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, MaxOutput: 16384,
		Aliases: []string{"sonnet", "claude-sonnet"},
	},

	// OpenAI
	{
		ID: "gpt-5.2", Provider: "openai", DisplayName: "GPT-5.2",
		ContextWindow: 1047576, MaxOutput: 32768,
		Aliases: []string{"gpt5"},
	},
	{
		ID: "gpt-5.2-mini", Provider: "openai", DisplayName: "GPT-5.2 Mini",
		ContextWindow: 1047576, MaxOutput: 16384,
		Aliases: []string{"gpt5-mini"},
	},
	{
		ID: "gpt-5.2-codex", Provider: "openai", DisplayName: "GPT-5.2 Codex",
		ContextWindow: 1047576, MaxOutput: 32768,
		Aliases: []string{"codex"},
	},
	{
		ID: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o",
		ContextWindow: 128000, MaxOutput: 16384,
	},
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o Mini",
		ContextWindow: 128000, MaxOutput: 16384,
	},

	// Gemini
	{
		ID: "gemini-3-pro-preview", Provider: "gemini", DisplayName: "Gemini 3 Pro (Preview)",
		ContextWindow: 1048576, MaxOutput: 65536,
		Aliases: []string{"gemini-pro", "gemini-3-pro"},
	},
	{
		ID: "gemini-3-flash-preview", Provider: "gemini", DisplayName: "Gemini 3 Flash (Preview)",
		ContextWindow: 1048576, MaxOutput: 65536,
		Aliases: []string{"gemini-flash", "gemini-3-flash"},
	},
	{
		ID: "gemini-1.5-pro", Provider: "gemini", DisplayName: "Gemini 1.5 Pro",
		ContextWindow: 1000000, MaxOutput: 8192,
	},

	// xAI
	{
		ID: "grok-2", Provider: "xai", DisplayName: "Grok 2",
		ContextWindow: 128000, MaxOutput: 8192,
		Aliases: []string{"grok"},
	},

	// DeepSeek
	{
		ID: "deepseek-chat", Provider: "deepseek", DisplayName: "DeepSeek Chat",
		ContextWindow: 128000, MaxOutput: 8192,
	},

	// Offline
	{ID: "local-simulate", Provider: "simple", DisplayName: "Local Simulate", ContextWindow: 128000},
	{ID: "local-analyze", Provider: "simple", DisplayName: "Local Analyze", ContextWindow: 128000},
	{ID: "local-refactor", Provider: "simple", DisplayName: "Local Refactor", ContextWindow: 128000},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// GetLatestModel returns the first (newest) catalog model for a provider.
func GetLatestModel(provider string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider == provider {
			return &Models[i]
		}
	}
	return nil
}

// GuessContextTokens estimates a model's context window in tokens. Catalog
// entries answer exactly; unknown models fall back to substring heuristics
// over the model name; unrecognized names get a conservative 128k.
func GuessContextTokens(model string) int {
	if info := GetModelInfo(model); info != nil {
		return info.ContextWindow
	}

	name := strings.ToLower(strings.TrimSpace(model))
	switch {
	case name == "":
		return 128_000
	case strings.Contains(name, "gpt-5"):
		return 400_000
	case strings.Contains(name, "gpt-4o"), strings.Contains(name, "gpt-4.1"),
		strings.Contains(name, "o3"), strings.Contains(name, "o4"):
		return 128_000
	case strings.Contains(name, "gpt-4"):
		return 128_000
	case strings.Contains(name, "gpt-3.5"):
		return 16_384
	case strings.Contains(name, "claude"), strings.Contains(name, "sonnet"),
		strings.Contains(name, "opus"), strings.Contains(name, "haiku"):
		return 200_000
	case strings.Contains(name, "gemini-1.5"), strings.Contains(name, "gemini"):
		return 1_000_000
	case strings.Contains(name, "deepseek"):
		return 128_000
	case strings.Contains(name, "grok"), strings.Contains(name, "xai"):
		return 128_000
	default:
		return 128_000
	}
}
