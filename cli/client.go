package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/chatrelay/internal/protocol"
)

// Frame is any frame the relay sends. Only the fields of its kind are set.
type Frame struct {
	Type    string          `json:"type,omitempty"`
	ChatID  string          `json:"chat_id,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
	Errors  json.RawMessage `json:"errors,omitempty"`
	Status  int             `json:"status,omitempty"`
	Detail  string          `json:"detail,omitempty"`
}

// FrameMessage is the message part of a delivered or pushed frame.
type FrameMessage struct {
	ID              string `json:"id"`
	Role            string `json:"role"`
	Content         string `json:"content"`
	ResponseFileURL string `json:"response_file_url,omitempty"`
}

// Client represents a WebSocket client.
type Client struct {
	conn   *websocket.Conn
	chatID string
	done   chan struct{}
}

// NewClient connects to the relay at addr. A non-empty token is sent as a
// bearer credential.
func NewClient(addr, token string) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(addr, header)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

// Send sends a user message on the current chat.
func (c *Client) Send(content string) error {
	return c.conn.WriteJSON(protocol.InboundMessage{
		ChatID:  c.chatID,
		Role:    "user",
		Content: content,
	})
}

// ReadFrames decodes frames until the connection closes and hands each one
// to handle.
func (c *Client) ReadFrames(handle func(Frame)) error {
	for {
		select {
		case <-c.done:
			return nil
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			handle(Frame{Errors: json.RawMessage(fmt.Sprintf("%q", "unreadable frame: "+err.Error()))})
			continue
		}
		if frame.Type == protocol.TypeChatCreated {
			c.chatID = frame.ChatID
		}
		handle(frame)
	}
}
