package domain

import "time"

// Chat is one logical conversation. OwnerID is empty for anonymous chats.
type Chat struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id,omitempty"`
	Title     string     `json:"title"`
	Status    ChatStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ChatUpdate carries the mutable fields of a chat. Nil fields are left as is.
type ChatUpdate struct {
	Title  *string     `json:"title,omitempty"`
	Status *ChatStatus `json:"status,omitempty"`
}
