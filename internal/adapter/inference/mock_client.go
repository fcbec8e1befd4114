package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// MockClient is a local gateway that echoes the new message back.
type MockClient struct{}

// NewMockClient creates a new mock gateway.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Ensure MockClient implements Gateway interface.
var _ Gateway = (*MockClient)(nil)

// Send returns a canned reply without any network traffic.
func (m *MockClient) Send(ctx context.Context, endpoint string, newMessage domain.Message, history []domain.Message) Outcome {
	if err := ctx.Err(); err != nil {
		return Failure(http.StatusGatewayTimeout, err.Error())
	}
	reply := Reply{
		Role:    string(domain.RoleAssistant),
		Content: fmt.Sprintf("[MOCK] Received your message: %q (%d earlier messages).", truncate(newMessage.Content, 100), len(history)),
	}
	body, err := json.Marshal(reply)
	if err != nil {
		return Failure(http.StatusBadGateway, err.Error())
	}
	return Outcome{Status: http.StatusOK, Body: body}
}

// truncate truncates a string to the given number of runes.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
