// Package protocol defines the WebSocket frames exchanged between clients and the relay.
package protocol

import (
	"encoding/json"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// Frame types from relay to client
const (
	TypeChatCreated = "chat.created"
)

// Error codes
const (
	ErrorCodeInvalidJSON         = "invalid_json"
	ErrorCodeInvalidPayload      = "invalid_payload"
	ErrorCodeChatInitFailed      = "chat_init_failed"
	ErrorCodeMessageInsertFailed = "message_insert_failed"
	ErrorCodeHistoryFetchFailed  = "history_fetch_failed"
	ErrorCodeChatForbidden       = "chat_forbidden"
	ErrorCodeGatewayError        = "gateway_error"
)

// InboundMessage is the client frame carrying a chat message.
type InboundMessage struct {
	ChatID  string `json:"chat_id,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCreatedFrame announces the chat bound to the connection.
type ChatCreatedFrame struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// NewChatCreated builds a chat.created frame.
func NewChatCreated(chatID string) ChatCreatedFrame {
	return ChatCreatedFrame{Type: TypeChatCreated, ChatID: chatID}
}

// ErrorFrame reports a failure. Errors holds either a sentinel code or a
// map of field errors. Status and Detail are set for gateway failures.
type ErrorFrame struct {
	Errors interface{} `json:"errors"`
	Status int         `json:"status,omitempty"`
	Detail string      `json:"detail,omitempty"`
}

// NewError builds an error frame carrying a sentinel code.
func NewError(code string) ErrorFrame {
	return ErrorFrame{Errors: code}
}

// NewFieldErrors builds an error frame carrying validation errors.
func NewFieldErrors(fields map[string][]string) ErrorFrame {
	return ErrorFrame{Errors: fields}
}

// NewGatewayError builds the error frame for a failed gateway call.
func NewGatewayError(status int, detail string) ErrorFrame {
	return ErrorFrame{Errors: ErrorCodeGatewayError, Status: status, Detail: detail}
}

// OutboundMessage is a persisted message as delivered to clients. Response
// carries the raw gateway body for assistant replies.
type OutboundMessage struct {
	domain.Message
	Response json.RawMessage `json:"response,omitempty"`
}

// DeliveredFrame carries a successfully relayed reply.
type DeliveredFrame struct {
	OK      bool            `json:"ok"`
	Message OutboundMessage `json:"message"`
}

// NewDelivered builds the success frame for a reply.
func NewDelivered(msg domain.Message, response json.RawMessage) DeliveredFrame {
	return DeliveredFrame{OK: true, Message: OutboundMessage{Message: msg, Response: response}}
}

// PushFrame carries a message pushed to every connection of a chat.
type PushFrame struct {
	Message json.RawMessage `json:"message"`
}
