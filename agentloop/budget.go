package agentloop

import (
	"github.com/martinemde/harness/llmclient"
)

const (
	// minCtxChars and minPerTurnChars are hard floors: no derived or
	// overridden budget may go below them.
	minCtxChars     = 10_000
	minPerTurnChars = 5_000

	// ctxHardCapChars is the absolute context ceiling regardless of what
	// the model claims to support.
	ctxHardCapChars = 2_000_000

	// perTurnSoftCapChars bounds the derived per-turn limit for very
	// large context windows.
	perTurnSoftCapChars = 50_000

	// DefaultCharsPerToken approximates model tokens from characters.
	DefaultCharsPerToken = 4.0

	// turnOverheadChars accounts for role tags and separators when
	// estimating the serialized size of a turn.
	turnOverheadChars = 16
)

// Budget bounds the conversation view sent to the model. Both limits are
// character counts; token accuracy is approximated via a chars-per-token
// ratio when the budget is derived.
type Budget struct {
	CtxMaxChars     int `json:"ctx_max_chars"`
	PerTurnMaxChars int `json:"per_turn_max_chars"`
}

// DeriveBudget computes a Budget for a model. Non-zero overrides win;
// otherwise the context size is guessed from the model name and converted
// at charsPerToken characters per token, capped at the hard ceiling. The
// per-turn limit scales to a tenth of the context, clamped between the
// floor and the soft cap.
func DeriveBudget(model string, charsPerToken float64, ctxOverride, perTurnOverride int) Budget {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	ctxMax := ctxOverride
	if ctxMax <= 0 {
		ctxMax = int(float64(llmclient.GuessContextTokens(model)) * charsPerToken)
		if ctxMax > ctxHardCapChars {
			ctxMax = ctxHardCapChars
		}
	}
	perTurn := perTurnOverride
	if perTurn <= 0 {
		perTurn = ctxMax / 10
		if perTurn < minCtxChars {
			perTurn = minCtxChars
		}
		if perTurn > perTurnSoftCapChars {
			perTurn = perTurnSoftCapChars
		}
	}
	if ctxMax < minCtxChars {
		ctxMax = minCtxChars
	}
	if perTurn < minPerTurnChars {
		perTurn = minPerTurnChars
	}
	return Budget{CtxMaxChars: ctxMax, PerTurnMaxChars: perTurn}
}

func estimateTurn(t Turn) int {
	return len(t.Role) + len(t.Content) + turnOverheadChars
}

// EstimateChars returns the approximate serialized size of a conversation.
func EstimateChars(conv []Turn) int {
	total := 0
	for _, t := range conv {
		total += estimateTurn(t)
	}
	return total
}

// SendView builds the conversation slice actually sent to the model. The
// leading system turn is kept verbatim and always included; every other
// turn is tail-truncated to the per-turn limit; then turns are admitted
// newest-first until the context budget is exhausted. The most recent turn
// is always included. The live conversation is never mutated.
func (b Budget) SendView(conv []Turn) []Turn {
	if len(conv) == 0 {
		return nil
	}
	view := make([]Turn, 0, len(conv))
	rest := conv
	used := 0
	if conv[0].Role == RoleSystem {
		view = append(view, conv[0])
		used += estimateTurn(conv[0])
		rest = conv[1:]
	}
	if len(rest) == 0 {
		return view
	}
	capped := make([]Turn, len(rest))
	for i, t := range rest {
		if len(t.Content) > b.PerTurnMaxChars {
			t.Content = TailChars(t.Content, b.PerTurnMaxChars)
		}
		capped[i] = t
	}
	// Admit from the newest turn backward. The newest turn is admitted
	// unconditionally so the model always sees the latest exchange.
	start := len(capped) - 1
	used += estimateTurn(capped[start])
	for start > 0 {
		cost := estimateTurn(capped[start-1])
		if used+cost > b.CtxMaxChars {
			break
		}
		used += cost
		start--
	}
	return append(view, capped[start:]...)
}
