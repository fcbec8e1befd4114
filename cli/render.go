package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/xiaot623/gogo/chatrelay/internal/protocol"
)

var (
	infoStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	promptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
)

// Renderer turns relay frames into terminal output.
type Renderer struct {
	markdown *glamour.TermRenderer
}

// NewRenderer creates a renderer. With plain set, assistant content is
// printed as is.
func NewRenderer(plain bool, width int) (*Renderer, error) {
	if plain {
		return &Renderer{}, nil
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &Renderer{markdown: md}, nil
}

// Render formats one frame.
func (r *Renderer) Render(frame Frame) string {
	switch {
	case frame.Type == protocol.TypeChatCreated:
		return infoStyle.Render("chat " + frame.ChatID)
	case len(frame.Errors) > 0:
		return errorStyle.Render(describeError(frame))
	case len(frame.Message) > 0:
		var msg FrameMessage
		if err := json.Unmarshal(frame.Message, &msg); err != nil {
			return errorStyle.Render("unreadable message: " + err.Error())
		}
		return r.renderMessage(msg, !frame.OK)
	default:
		return ""
	}
}

func (r *Renderer) renderMessage(msg FrameMessage, pushed bool) string {
	label := msg.Role
	if label == "" {
		label = "assistant"
	}
	if pushed {
		label += " (pushed)"
	}

	body := msg.Content
	if r.markdown != nil && strings.TrimSpace(body) != "" {
		if out, err := r.markdown.Render(body); err == nil {
			body = strings.TrimRight(out, "\n")
		}
	}

	var b strings.Builder
	b.WriteString(assistantStyle.Render(label))
	b.WriteString("\n")
	b.WriteString(body)
	if msg.ResponseFileURL != "" {
		b.WriteString("\n")
		b.WriteString(infoStyle.Render("attachment: " + msg.ResponseFileURL))
	}
	return b.String()
}

// describeError flattens an error frame into one line.
func describeError(frame Frame) string {
	var code string
	if err := json.Unmarshal(frame.Errors, &code); err == nil {
		if frame.Status != 0 {
			return fmt.Sprintf("error: %s (%d) %s", code, frame.Status, frame.Detail)
		}
		return "error: " + code
	}

	var fields map[string][]string
	if err := json.Unmarshal(frame.Errors, &fields); err == nil {
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, name+": "+strings.Join(fields[name], " "))
		}
		return "error: " + strings.Join(parts, "; ")
	}
	return "error: " + string(frame.Errors)
}

func prompt() string {
	return promptStyle.Render("> ")
}
