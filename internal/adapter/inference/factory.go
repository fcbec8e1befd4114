package inference

import (
	"time"

	"github.com/charmbracelet/log"
)

// ModeMock selects the mock gateway.
const ModeMock = "MOCK"

// NewGateway creates a gateway for mode. MOCK returns a MockClient;
// anything else returns the HTTP client.
func NewGateway(mode string, timeout time.Duration, logger *log.Logger) Gateway {
	if mode == ModeMock {
		logger.Info("GATEWAY_MODE=MOCK detected, using mock inference gateway")
		return NewMockClient()
	}
	return NewClient(timeout)
}
