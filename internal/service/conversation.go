package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/xiaot623/gogo/chatrelay/internal/adapter/inference"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
	"github.com/xiaot623/gogo/chatrelay/internal/policy"
	"github.com/xiaot623/gogo/chatrelay/internal/protocol"
	"github.com/xiaot623/gogo/chatrelay/internal/validator"
)

// State is a step of the per-connection session protocol.
type State int32

const (
	StateConnecting State = iota
	StateReady
	StateValidating
	StatePersisting
	StateFetchingHistory
	StateCallingGateway
	StatePersistingReply
	StateDelivering
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateValidating:
		return "validating"
	case StatePersisting:
		return "persisting"
	case StateFetchingHistory:
		return "fetching_history"
	case StateCallingGateway:
		return "calling_gateway"
	case StatePersistingReply:
		return "persisting_reply"
	case StateDelivering:
		return "delivering"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Emitter delivers frames to the client of a connection.
type Emitter interface {
	Emit(v interface{}) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(v interface{}) error

func (f EmitterFunc) Emit(v interface{}) error { return f(v) }

// Conversation runs the session protocol of one connection. Frames must be
// fed sequentially; only Close and State may be called concurrently.
type Conversation struct {
	svc     *Service
	emitter Emitter
	ownerID string
	chatID  string
	state   atomic.Int32
	log     *log.Logger
}

// NewConversation creates the protocol handler for a connection owned by
// ownerID ("" for anonymous clients).
func (s *Service) NewConversation(ownerID string, emitter Emitter) *Conversation {
	c := &Conversation{
		svc:     s,
		emitter: emitter,
		ownerID: ownerID,
		log:     s.log.With("component", "conversation"),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// State returns the current protocol state.
func (c *Conversation) State() State {
	return State(c.state.Load())
}

// ChatID returns the chat the connection is bound to, or "".
func (c *Conversation) ChatID() string {
	return c.chatID
}

func (c *Conversation) setState(s State) bool {
	for {
		cur := c.state.Load()
		if State(cur) == StateClosed {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return true
		}
	}
}

// Close moves the conversation to its terminal state. Later frames are ignored
// and a frame still in flight finishes without delivering its reply.
func (c *Conversation) Close() {
	c.state.Store(int32(StateClosed))
}

func (c *Conversation) closed() bool {
	return c.State() == StateClosed
}

func (c *Conversation) emit(v interface{}) {
	if c.closed() {
		c.log.Debug("dropping frame for closed connection", "chat_id", c.chatID)
		return
	}
	if err := c.emitter.Emit(v); err != nil {
		c.log.Debug("failed to emit frame", "chat_id", c.chatID, "err", err)
	}
}

// Open creates the connection's chat and announces it. On failure the
// connection stays usable without a chat; the first valid frame retries.
func (c *Conversation) Open(ctx context.Context) {
	if c.closed() {
		return
	}
	c.createChat(ctx)
	c.setState(StateReady)
}

func (c *Conversation) createChat(ctx context.Context) bool {
	chat, err := c.svc.store.CreateChat(ctx, c.ownerID)
	if err != nil {
		c.log.Error("failed to create chat", "owner_id", c.ownerID, "err", err)
		c.emit(protocol.NewError(protocol.ErrorCodeChatInitFailed))
		return false
	}
	c.chatID = chat.ID
	c.log.Debug("chat created", "chat_id", chat.ID, "owner_id", c.ownerID)
	c.emit(protocol.NewChatCreated(chat.ID))
	return true
}

// HandleFrame runs one client frame through the pipeline and returns once
// the reply, or the error frame that aborted it, has been emitted.
func (c *Conversation) HandleFrame(ctx context.Context, data []byte) {
	if !c.setState(StateValidating) {
		return
	}
	defer c.setState(StateReady)

	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		c.emit(protocol.NewError(protocol.ErrorCodeInvalidJSON))
		return
	}
	payload, ok := decoded.(map[string]interface{})
	if !ok {
		c.emit(protocol.NewError(protocol.ErrorCodeInvalidPayload))
		return
	}

	if provided, ok := payload["chat_id"].(string); ok {
		if id := strings.TrimSpace(provided); id != "" && id != c.chatID {
			if !c.mayAdopt(ctx, id) {
				return
			}
			c.chatID = id
		}
	}

	input, fieldErrs := validator.ValidateMessage(payload, validator.Options{
		MaxContentLength: c.svc.config.MaxContentLength,
	})
	if fieldErrs != nil {
		c.emit(protocol.NewFieldErrors(fieldErrs))
		return
	}

	if c.chatID == "" && !c.createChat(ctx) {
		return
	}
	chatID := c.chatID
	logger := c.log.With("chat_id", chatID)

	if !c.setState(StatePersisting) {
		return
	}
	inbound := &domain.Message{ChatID: chatID, Role: input.Role, Content: input.Content}
	if _, err := c.svc.store.AppendMessage(ctx, inbound); err != nil {
		logger.Error("failed to insert message", "err", err)
		c.emit(protocol.NewError(protocol.ErrorCodeMessageInsertFailed))
		return
	}

	c.setState(StateFetchingHistory)
	history, err := c.svc.store.ChatHistory(ctx, chatID, inbound.ID)
	if err != nil {
		logger.Error("failed to fetch history", "err", err)
		c.emit(protocol.NewError(protocol.ErrorCodeHistoryFetchFailed))
		return
	}

	c.setState(StateCallingGateway)
	outcome := c.svc.gateway.Send(ctx, c.svc.config.GatewayURL, *inbound, historyForGateway(history))
	if !outcome.OK() {
		logger.Warn("gateway call failed", "status", outcome.Status, "detail", outcome.Message)
		c.emit(protocol.NewGatewayError(outcome.Status, outcome.Message))
		return
	}
	reply, err := inference.ParseReply(outcome.Body)
	if err != nil {
		logger.Warn("gateway reply is malformed", "err", err)
		c.emit(protocol.NewGatewayError(http.StatusBadGateway, "malformed inference reply: "+err.Error()))
		return
	}

	c.setState(StatePersistingReply)
	answer := &domain.Message{ChatID: chatID, Role: domain.RoleAssistant, Content: reply.Content}
	if _, err := c.svc.store.AppendMessage(ctx, answer); err != nil {
		logger.Error("failed to insert reply", "err", err)
		c.emit(protocol.NewError(protocol.ErrorCodeMessageInsertFailed))
		return
	}

	if reply.File != nil && c.svc.uploader != nil {
		c.svc.uploader.Enqueue(AttachmentJob{ChatID: chatID, MessageID: answer.ID, File: *reply.File})
	}

	if !c.setState(StateDelivering) {
		logger.Debug("connection closed before delivery", "message_id", answer.ID)
		return
	}
	c.emit(protocol.NewDelivered(*answer, outcome.Body))
}

// mayAdopt reports whether the connection may move to chatID, emitting the
// error frame when it may not. Unknown ids and anonymous chats are adopted;
// chats owned by someone else go through the policy engine.
func (c *Conversation) mayAdopt(ctx context.Context, chatID string) bool {
	chat, err := c.svc.store.GetChat(ctx, chatID)
	if errors.Is(err, domain.ErrNotFound) {
		return true
	}
	if err != nil {
		c.log.Error("failed to look up chat", "chat_id", chatID, "err", err)
		c.emit(protocol.NewError(protocol.ErrorCodeHistoryFetchFailed))
		return false
	}
	if chat.OwnerID == "" || chat.OwnerID == c.ownerID {
		return true
	}

	if _, err := c.svc.authorizeChat(ctx, policy.ActionWrite, c.ownerID, chatID); err != nil {
		if !errors.Is(err, domain.ErrForbidden) {
			c.log.Error("failed to authorize chat", "chat_id", chatID, "err", err)
		}
		c.emit(protocol.NewError(protocol.ErrorCodeChatForbidden))
		return false
	}
	return true
}

// historyForGateway strips storage-only fields and maps an empty history to nil.
func historyForGateway(history []domain.Message) []domain.Message {
	if len(history) == 0 {
		return nil
	}
	out := make([]domain.Message, len(history))
	for i, m := range history {
		m.ResponseFileURL = ""
		out[i] = m
	}
	return out
}
