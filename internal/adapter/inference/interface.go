// Package inference is the gateway to the external AI inference backend.
package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// Gateway sends one conversation turn to the inference backend.
// Implementations never return an error: every failure is folded into the Outcome.
type Gateway interface {
	Send(ctx context.Context, endpoint string, newMessage domain.Message, history []domain.Message) Outcome
}

// Ensure Client implements Gateway interface.
var _ Gateway = (*Client)(nil)

// Request is the JSON body posted to the backend. ChatHistory marshals as
// null when there is no prior message.
type Request struct {
	NewMessage  domain.Message   `json:"new_message"`
	ChatHistory []domain.Message `json:"chat_history"`
}

// Outcome is the normalised result of a gateway call. Status is the HTTP
// status, or 504/502 for timeouts and transport errors. Body holds the
// JSON object on success; Message holds the failure text otherwise.
type Outcome struct {
	Status  int
	Body    json.RawMessage
	Message string
}

// OK reports whether the call succeeded.
func (o Outcome) OK() bool {
	return o.Status == http.StatusOK && o.Body != nil
}

// Failure builds a failed outcome.
func Failure(status int, message string) Outcome {
	return Outcome{Status: status, Message: message}
}

// Reply is the backend's answer to a turn. It is always stored as an
// assistant message whatever Role says.
type Reply struct {
	Role    string      `json:"role,omitempty"`
	Content string      `json:"content"`
	File    *Attachment `json:"file,omitempty"`
}

// DefaultAttachmentName is used when the backend omits a filename.
const DefaultAttachmentName = "response.pdf"

// Attachment is a base64 encoded file returned with a reply. The backend
// sends either {"data": "...", "filename": "..."} or a bare base64 string.
type Attachment struct {
	Data     string `json:"data"`
	Filename string `json:"filename,omitempty"`
}

// UnmarshalJSON accepts both attachment encodings.
func (a *Attachment) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		a.Data = s
		a.Filename = ""
		return nil
	}
	type plain Attachment
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*a = Attachment(p)
	return nil
}

// Name returns the filename or the default.
func (a *Attachment) Name() string {
	if a.Filename == "" {
		return DefaultAttachmentName
	}
	return a.Filename
}

// Decode returns the raw attachment bytes.
func (a *Attachment) Decode() ([]byte, error) {
	if a.Data == "" {
		return nil, errors.New("empty attachment")
	}
	data, err := base64.StdEncoding.DecodeString(a.Data)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ParseReply decodes a successful outcome body.
func ParseReply(body json.RawMessage) (Reply, error) {
	var reply Reply
	if err := json.Unmarshal(body, &reply); err != nil {
		return Reply{}, err
	}
	return reply, nil
}
