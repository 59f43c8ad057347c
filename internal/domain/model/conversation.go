package model

import (
	"strings"

	"audio-assistant/internal/domain"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ConversationTurn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

type Conversation struct {
	Turns []ConversationTurn `json:"turns"`
}

func (c *Conversation) Append(role Role, text string) {
	c.Turns = append(c.Turns, ConversationTurn{Role: role, Text: text})
}

// Validate requires at least one turn and a user turn at the end.
func (c Conversation) Validate() error {
	if len(c.Turns) == 0 {
		return domain.ErrEmptyConversation
	}
	for _, t := range c.Turns {
		switch t.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return domain.ErrInvalidArgument
		}
	}
	last := c.Turns[len(c.Turns)-1]
	if last.Role != RoleUser || strings.TrimSpace(last.Text) == "" {
		return domain.ErrEmptyConversation
	}
	return nil
}

func (c Conversation) LastUserMessage() string {
	for i := len(c.Turns) - 1; i >= 0; i-- {
		if c.Turns[i].Role == RoleUser {
			return c.Turns[i].Text
		}
	}
	return ""
}

// IsFirstTurn reports whether the conversation holds a single user message
// and no assistant reply yet.
func (c Conversation) IsFirstTurn() bool {
	users := 0
	for _, t := range c.Turns {
		switch t.Role {
		case RoleUser:
			users++
		case RoleAssistant:
			return false
		}
	}
	return users == 1
}

// Tail keeps the last n turns.
func (c Conversation) Tail(n int) Conversation {
	if n <= 0 || len(c.Turns) <= n {
		return c
	}
	turns := make([]ConversationTurn, n)
	copy(turns, c.Turns[len(c.Turns)-n:])
	return Conversation{Turns: turns}
}
