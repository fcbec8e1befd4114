// Package domain defines the core domain models for the chat relay.
package domain

// ChatStatus represents the lifecycle status of a chat.
type ChatStatus string

const (
	ChatStatusDraft  ChatStatus = "draft"
	ChatStatusActive ChatStatus = "active"
	ChatStatusClosed ChatStatus = "closed"
)

// Valid reports whether s is a known chat status.
func (s ChatStatus) Valid() bool {
	switch s {
	case ChatStatusDraft, ChatStatusActive, ChatStatusClosed:
		return true
	}
	return false
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"

	// roleChatbot is the legacy name clients still send for the assistant.
	roleChatbot = "chatbot"
)

// ParseRole maps a wire role onto a Role. The legacy "chatbot" name is
// accepted as the assistant.
func ParseRole(s string) (Role, bool) {
	switch s {
	case string(RoleUser):
		return RoleUser, true
	case string(RoleAssistant), roleChatbot:
		return RoleAssistant, true
	}
	return "", false
}
