// Package validator checks inbound client payloads and converts them into typed records.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// DefaultMaxContentLength bounds message content, counted in characters.
const DefaultMaxContentLength = 1000

// Error messages, worded like the REST API's field errors.
const (
	MsgRequired     = "This field is required."
	MsgNotString    = "Not a valid string."
	MsgBlank        = "This field may not be blank."
	MsgInvalidRole  = "Invalid role"
	msgMaxLengthFmt = "Ensure this field has no more than %d characters."
)

// Message is a validated inbound chat message.
type Message struct {
	ChatID  string
	Role    domain.Role
	Content string
}

// FieldErrors maps a field name to its error messages.
type FieldErrors map[string][]string

func (e FieldErrors) add(field, msg string) {
	e[field] = append(e[field], msg)
}

// Fields returns the failing field names in sorted order.
func (e FieldErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Options tune validation.
type Options struct {
	MaxContentLength int
}

// ValidateMessage checks a decoded frame. It returns the normalized message
// and a nil FieldErrors when the payload is valid.
func ValidateMessage(payload map[string]interface{}, opts Options) (Message, FieldErrors) {
	maxLen := opts.MaxContentLength
	if maxLen <= 0 {
		maxLen = DefaultMaxContentLength
	}

	var msg Message
	errs := FieldErrors{}

	if raw, ok := payload["chat_id"]; ok && raw != nil {
		if s, ok := raw.(string); ok {
			msg.ChatID = strings.TrimSpace(s)
		} else {
			errs.add("chat_id", MsgNotString)
		}
	}

	msg.Role = domain.RoleUser
	if raw, ok := payload["role"]; ok && raw != nil {
		s, isString := raw.(string)
		switch role, known := domain.ParseRole(s); {
		case !isString:
			errs.add("role", MsgNotString)
		case !known:
			errs.add("role", MsgInvalidRole)
		default:
			msg.Role = role
		}
	}

	raw, ok := payload["content"]
	switch s, isString := raw.(string); {
	case !ok || raw == nil:
		errs.add("content", MsgRequired)
	case !isString:
		errs.add("content", MsgNotString)
	default:
		s = strings.TrimSpace(s)
		if s == "" {
			errs.add("content", MsgBlank)
		} else if utf8.RuneCountInString(s) > maxLen {
			errs.add("content", fmt.Sprintf(msgMaxLengthFmt, maxLen))
		}
		msg.Content = s
	}

	if len(errs) > 0 {
		return Message{}, errs
	}
	return msg, nil
}
