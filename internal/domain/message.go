package domain

import "time"

// Message is a single persisted chat message.
type Message struct {
	ID              string    `json:"id"`
	ChatID          string    `json:"chat_id"`
	Role            Role      `json:"role"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"created_at"`
	ResponseFileURL string    `json:"response_file_url,omitempty"`
}
