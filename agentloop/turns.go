package agentloop

import (
	"github.com/martinemde/harness/llmclient"
)

// Role identifies who authored a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single entry in the conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemTurn creates a system Turn.
func SystemTurn(content string) Turn {
	return Turn{Role: RoleSystem, Content: content}
}

// UserTurn creates a user Turn.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn creates an assistant Turn.
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}

// ToMessages converts the conversation history into backend messages.
func ToMessages(history []Turn) []llmclient.Message {
	messages := make([]llmclient.Message, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case RoleSystem:
			messages = append(messages, llmclient.SystemMessage(turn.Content))
		case RoleAssistant:
			messages = append(messages, llmclient.AssistantMessage(turn.Content))
		default:
			messages = append(messages, llmclient.UserMessage(turn.Content))
		}
	}
	return messages
}
