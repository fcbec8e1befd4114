package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response is kept as detail.
const maxErrorBody = 4096

// Client is the HTTP inference gateway.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a new gateway client.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send posts the turn to endpoint and normalises the result.
func (c *Client) Send(ctx context.Context, endpoint string, newMessage domain.Message, history []domain.Message) Outcome {
	if len(history) == 0 {
		history = nil
	}
	body, err := json.Marshal(Request{NewMessage: newMessage, ChatHistory: history})
	if err != nil {
		return Failure(http.StatusBadGateway, fmt.Sprintf("failed to marshal request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Failure(http.StatusBadGateway, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return Failure(http.StatusGatewayTimeout, "inference request timed out")
		}
		return Failure(http.StatusBadGateway, fmt.Sprintf("inference request failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		message := strings.TrimSpace(string(text))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return Failure(resp.StatusCode, message)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return Failure(http.StatusGatewayTimeout, "inference response timed out")
		}
		return Failure(http.StatusBadGateway, fmt.Sprintf("failed to read response: %v", err))
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(respBody, &obj); err != nil || obj == nil {
		return Failure(http.StatusBadGateway, "inference response is not a JSON object")
	}

	return Outcome{Status: http.StatusOK, Body: json.RawMessage(respBody)}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
