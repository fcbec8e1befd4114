package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatrelay/internal/adapter/inference"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
	"github.com/xiaot623/gogo/chatrelay/internal/repository"
	"github.com/xiaot623/gogo/chatrelay/tests/helpers"
)

// flakyStore fails selected operations on top of a real store.
type flakyStore struct {
	store.Store
	failCreateChat  atomic.Int32 // number of CreateChat calls left to fail
	failAppend      atomic.Bool
	failAppendAfter atomic.Int32 // fail AppendMessage once this many calls succeeded; -1 disables
	appends         atomic.Int32
	failHistory     atomic.Bool
}

func newFlakyStore(t *testing.T) *flakyStore {
	s := &flakyStore{Store: helpers.NewTestSQLiteStore(t)}
	s.failAppendAfter.Store(-1)
	return s
}

func (s *flakyStore) CreateChat(ctx context.Context, ownerID string) (*domain.Chat, error) {
	if s.failCreateChat.Load() > 0 {
		s.failCreateChat.Add(-1)
		return nil, errors.New("chats table unavailable")
	}
	return s.Store.CreateChat(ctx, ownerID)
}

func (s *flakyStore) AppendMessage(ctx context.Context, msg *domain.Message) (string, error) {
	if s.failAppend.Load() {
		return "", errors.New("disk full")
	}
	if after := s.failAppendAfter.Load(); after >= 0 && s.appends.Load() >= after {
		return "", errors.New("disk full")
	}
	s.appends.Add(1)
	return s.Store.AppendMessage(ctx, msg)
}

func (s *flakyStore) ChatHistory(ctx context.Context, chatID, excludeID string) ([]domain.Message, error) {
	if s.failHistory.Load() {
		return nil, errors.New("read timeout")
	}
	return s.Store.ChatHistory(ctx, chatID, excludeID)
}

func history(t *testing.T, st store.Store, chatID string) []domain.Message {
	t.Helper()
	msgs, err := st.ChatHistory(context.Background(), chatID, "")
	require.NoError(t, err)
	return msgs
}

func TestConversationOpen(t *testing.T) {
	env := newTestEnv(t)
	conv, rec, chatID := env.openConversation(t)

	assert.Equal(t, StateReady, conv.State())
	assert.Equal(t, chatID, conv.ChatID())
	assert.Equal(t, []string{fmt.Sprintf(`{"type":"chat.created","chat_id":%q}`, chatID)}, rec.Raw())

	chat, err := env.store.GetChat(context.Background(), chatID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChatStatusDraft, chat.Status)
	assert.Equal(t, "", chat.OwnerID)
}

func TestConversationOpenWithOwner(t *testing.T) {
	env := newTestEnv(t)
	user := &domain.User{Email: "owner@example.com", PasswordHash: "x"}
	require.NoError(t, env.store.CreateUser(context.Background(), user))

	rec := &recorder{}
	conv := env.svc.NewConversation(user.ID, rec)
	conv.Open(context.Background())

	chat, err := env.store.GetChat(context.Background(), conv.ChatID())
	require.NoError(t, err)
	assert.Equal(t, user.ID, chat.OwnerID)
}

func TestConversationInvalidJSON(t *testing.T) {
	env := newTestEnv(t)
	conv, rec, chatID := env.openConversation(t)

	conv.HandleFrame(context.Background(), []byte("{bad"))

	assert.Equal(t, `{"errors":"invalid_json"}`, rec.Raw()[1])
	assert.Equal(t, StateReady, conv.State())
	assert.Empty(t, history(t, env.store, chatID))
	assert.Empty(t, env.gateway.Calls())
}

func TestConversationInvalidPayload(t *testing.T) {
	env := newTestEnv(t)
	conv, rec, chatID := env.openConversation(t)

	for _, frame := range []string{`[1,2]`, `"hello"`, `42`, `null`} {
		conv.HandleFrame(context.Background(), []byte(frame))
		assert.Equal(t, `{"errors":"invalid_payload"}`, rec.Raw()[len(rec.Raw())-1], frame)
	}
	assert.Empty(t, history(t, env.store, chatID))
	assert.Empty(t, env.gateway.Calls())
}

func TestConversationValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	conv, rec, chatID := env.openConversation(t)

	conv.HandleFrame(context.Background(), []byte(`{"role":"robot","content":"   "}`))

	frame := rec.Last(t)
	errs, ok := frame["errors"].(map[string]interface{})
	require.True(t, ok, "frame: %v", frame)
	assert.Equal(t, []interface{}{"Invalid role"}, errs["role"])
	assert.Equal(t, []interface{}{"This field may not be blank."}, errs["content"])
	assert.Empty(t, history(t, env.store, chatID))
	assert.Empty(t, env.gateway.Calls())
}

func TestConversationRelaysMessage(t *testing.T) {
	env := newTestEnv(t)
	conv, rec, chatID := env.openConversation(t)

	conv.HandleFrame(context.Background(), []byte(`{"role":"user","content":"hi"}`))

	frame := rec.Last(t)
	assert.Equal(t, true, frame["ok"])
	msg := frame["message"].(map[string]interface{})
	assert.Equal(t, chatID, msg["chat_id"])
	assert.Equal(t, "assistant", msg["role"])
	assert.Equal(t, "echo: hi", msg["content"])
	assert.IsType(t, "", msg["id"])
	assert.NotEmpty(t, msg["created_at"])
	assert.Equal(t, map[string]interface{}{"role": "assistant", "content": "echo: hi"}, msg["response"])

	stored := history(t, env.store, chatID)
	require.Len(t, stored, 2)
	assert.Equal(t, domain.RoleUser, stored[0].Role)
	assert.Equal(t, "hi", stored[0].Content)
	assert.Equal(t, msg["id"], stored[1].ID)

	calls := env.gateway.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, chatID, calls[0].NewMessage.ChatID)
	assert.Equal(t, stored[0].ID, calls[0].NewMessage.ID)
	assert.Nil(t, calls[0].History)
	assert.Equal(t, StateReady, conv.State())
}

func TestConversationPersistsBeforeGatewayCall(t *testing.T) {
	env := newTestEnv(t)
	conv, _, chatID := env.openConversation(t)

	var seenInStore bool
	env.gateway.respond = func(ctx context.Context, msg domain.Message, _ []domain.Message) inference.Outcome {
		for _, m := range history(t, env.store, chatID) {
			if m.ID == msg.ID && m.Content == msg.Content {
				seenInStore = true
			}
		}
		return replyOutcome(map[string]string{"content": "ok"})
	}

	conv.HandleFrame(context.Background(), []byte(`{"content":"persist me"}`))
	assert.True(t, seenInStore)
}

func TestConversationHistoryExcludesNewMessage(t *testing.T) {
	env := newTestEnv(t)
	conv, _, _ := env.openConversation(t)

	conv.HandleFrame(context.Background(), []byte(`{"content":"first"}`))
	conv.HandleFrame(context.Background(), []byte(`{"content":"second"}`))

	calls := env.gateway.Calls()
	require.Len(t, calls, 2)
	second := calls[1]
	require.Len(t, second.History, 2)
	assert.Equal(t, "first", second.History[0].Content)
	assert.Equal(t, "echo: first", second.History[1].Content)
	for _, m := range second.History {
		assert.NotEqual(t, second.NewMessage.ID, m.ID)
	}
}

func TestConversationHistoryOmitsFileURL(t *testing.T) {
	env := newTestEnv(t)
	conv, _, chatID := env.openConversation(t)

	conv.HandleFrame(context.Background(), []byte(`{"content":"first"}`))
	stored := history(t, env.store, chatID)
	require.Len(t, stored, 2)
	require.NoError(t, env.store.SetResponseFileURL(context.Background(), stored[1].ID, "http://files.test/x.pdf"))

	conv.HandleFrame(context.Background(), []byte(`{"content":"second"}`))
	calls := env.gateway.Calls()
	require.Len(t, calls, 2)
	for _, m := range calls[1].History {
		assert.Empty(t, m.ResponseFileURL)
	}
}

func TestConversationUsesBoundChatID(t *testing.T) {
	env := newTestEnv(t)
	conv, _, chatID := env.openConversation(t)

	conv.HandleFrame(context.Background(), []byte(`{"role":"user","content":"hi"}`))

	stored := history(t, env.store, chatID)
	require.NotEmpty(t, stored)
	assert.Equal(t, chatID, stored[0].ChatID)
}

func TestConversationAdoptsClientChatID(t *testing.T) {
	env := newTestEnv(t)
	conv, _, original := env.openConversation(t)

	other, err := env.store.CreateChat(context.Background(), "")
	require.NoError(t, err)

	conv.HandleFrame(context.Background(), []byte(fmt.Sprintf(`{"chat_id":%q,"content":"moved"}`, other.ID)))
	conv.HandleFrame(context.Background(), []byte(`{"content":"still moved"}`))

	assert.Equal(t, other.ID, conv.ChatID())
	assert.Empty(t, history(t, env.store, original))
	stored := history(t, env.store, other.ID)
	require.Len(t, stored, 4)
	assert.Equal(t, "moved", stored[0].Content)
	assert.Equal(t, "still moved", stored[2].Content)
}

func TestConversationUnknownClientChatID(t *testing.T) {
	env := newTestEnv(t)
	conv, rec, _ := env.openConversation(t)

	conv.HandleFrame(context.Background(), []byte(`{"chat_id":"does-not-exist","content":"hi"}`))

	assert.Equal(t, `{"errors":"message_insert_failed"}`, rec.Raw()[len(rec.Raw())-1])
	assert.Empty(t, env.gateway.Calls())
}

func TestConversationRefusesForeignChatID(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := createUser(t, env, "owner@example.com")
	stranger := createUser(t, env, "stranger@example.com")

	owned, err := env.store.CreateChat(ctx, owner)
	require.NoError(t, err)
	_, err = env.store.AppendMessage(ctx, &domain.Message{ChatID: owned.ID, Role: domain.RoleUser, Content: "secret"})
	require.NoError(t, err)

	for name, ownerID := range map[string]string{"anonymous": "", "other user": stranger} {
		t.Run(name, func(t *testing.T) {
			rec := &recorder{}
			conv := env.svc.NewConversation(ownerID, rec)
			conv.Open(ctx)
			original := conv.ChatID()
			calls := len(env.gateway.Calls())

			conv.HandleFrame(ctx, []byte(fmt.Sprintf(`{"chat_id":%q,"content":"tell me"}`, owned.ID)))

			assert.Equal(t, `{"errors":"chat_forbidden"}`, rec.Raw()[len(rec.Raw())-1])
			assert.Equal(t, original, conv.ChatID())
			assert.Len(t, env.gateway.Calls(), calls)
			assert.Equal(t, StateReady, conv.State())
		})
	}

	stored := history(t, env.store, owned.ID)
	require.Len(t, stored, 1)
	assert.Equal(t, "secret", stored[0].Content)
}

func TestConversationOwnerAdoptsOwnChat(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := createUser(t, env, "owner@example.com")

	owned, err := env.store.CreateChat(ctx, owner)
	require.NoError(t, err)

	rec := &recorder{}
	conv := env.svc.NewConversation(owner, rec)
	conv.Open(ctx)
	conv.HandleFrame(ctx, []byte(fmt.Sprintf(`{"chat_id":%q,"content":"back again"}`, owned.ID)))

	assert.Equal(t, true, rec.Last(t)["ok"])
	assert.Equal(t, owned.ID, conv.ChatID())
	assert.Len(t, history(t, env.store, owned.ID), 2)
}

func TestConversationStoresReplyAsAssistant(t *testing.T) {
	env := newTestEnv(t)
	conv, rec, chatID := env.openConversation(t)
	env.gateway.respond = func(context.Context, domain.Message, []domain.Message) inference.Outcome {
		return replyOutcome(map[string]string{"role": "user", "content": "pretending"})
	}

	conv.HandleFrame(context.Background(), []byte(`{"content":"hi"}`))

	msg := rec.Last(t)["message"].(map[string]interface{})
	assert.Equal(t, "assistant", msg["role"])
	stored := history(t, env.store, chatID)
	require.Len(t, stored, 2)
	assert.Equal(t, domain.RoleAssistant, stored[1].Role)
}

func TestConversationGatewayFailure(t *testing.T) {
	env := newTestEnv(t)
	conv, rec, chatID := env.openConversation(t)
	env.gateway.respond = func(context.Context, domain.Message, []domain.Message) inference.Outcome {
		return inference.Failure(http.StatusServiceUnavailable, "model overloaded")
	}

	conv.HandleFrame(context.Background(), []byte(`{"content":"hi"}`))

	assert.Equal(t, `{"errors":"gateway_error","status":503,"detail":"model overloaded"}`, rec.Raw()[len(rec.Raw())-1])
	stored := history(t, env.store, chatID)
	require.Len(t, stored, 1)
	assert.Equal(t, domain.RoleUser, stored[0].Role)
	assert.Equal(t, StateReady, conv.State())
}

func TestConversationMalformedReply(t *testing.T) {
	env := newTestEnv(t)
	conv, rec, chatID := env.openConversation(t)
	env.gateway.respond = func(context.Context, domain.Message, []domain.Message) inference.Outcome {
		return replyOutcome(map[string]interface{}{"content": 12})
	}

	conv.HandleFrame(context.Background(), []byte(`{"content":"hi"}`))

	frame := rec.Last(t)
	assert.Equal(t, "gateway_error", frame["errors"])
	assert.Equal(t, float64(http.StatusBadGateway), frame["status"])
	assert.Len(t, history(t, env.store, chatID), 1)
}

func TestConversationInsertFailure(t *testing.T) {
	st := newFlakyStore(t)
	env := newTestEnvWithStore(t, st)
	conv, rec, chatID := env.openConversation(t)
	st.failAppend.Store(true)

	conv.HandleFrame(context.Background(), []byte(`{"content":"hi"}`))

	assert.Equal(t, `{"errors":"message_insert_failed"}`, rec.Raw()[len(rec.Raw())-1])
	assert.Empty(t, env.gateway.Calls())
	assert.Empty(t, history(t, st.Store, chatID))
	assert.Equal(t, StateReady, conv.State())
}

func TestConversationReplyInsertFailure(t *testing.T) {
	st := newFlakyStore(t)
	env := newTestEnvWithStore(t, st)
	conv, rec, chatID := env.openConversation(t)
	st.failAppendAfter.Store(1)

	conv.HandleFrame(context.Background(), []byte(`{"content":"hi"}`))

	assert.Equal(t, `{"errors":"message_insert_failed"}`, rec.Raw()[len(rec.Raw())-1])
	assert.Len(t, env.gateway.Calls(), 1)
	// The inbound message stays as the durable record.
	assert.Len(t, history(t, st.Store, chatID), 1)
}

func TestConversationHistoryFailure(t *testing.T) {
	st := newFlakyStore(t)
	env := newTestEnvWithStore(t, st)
	conv, rec, _ := env.openConversation(t)
	st.failHistory.Store(true)

	conv.HandleFrame(context.Background(), []byte(`{"content":"hi"}`))

	assert.Equal(t, `{"errors":"history_fetch_failed"}`, rec.Raw()[len(rec.Raw())-1])
	assert.Empty(t, env.gateway.Calls())
}

func TestConversationInitFailureThenLazyCreate(t *testing.T) {
	st := newFlakyStore(t)
	env := newTestEnvWithStore(t, st)
	st.failCreateChat.Store(1)

	rec := &recorder{}
	conv := env.svc.NewConversation("", rec)
	conv.Open(context.Background())

	assert.Equal(t, []string{`{"errors":"chat_init_failed"}`}, rec.Raw())
	assert.Equal(t, StateReady, conv.State())
	assert.Equal(t, "", conv.ChatID())

	conv.HandleFrame(context.Background(), []byte(`{"content":"hi"}`))

	frames := rec.Frames()
	require.Len(t, frames, 3)
	assert.Equal(t, "chat.created", frames[1]["type"])
	chatID := frames[1]["chat_id"].(string)
	assert.Equal(t, chatID, conv.ChatID())
	assert.Equal(t, true, frames[2]["ok"])
	assert.Len(t, history(t, st.Store, chatID), 2)

	_, err := st.GetChat(context.Background(), chatID)
	assert.NoError(t, err)
}

func TestConversationLazyCreateFailure(t *testing.T) {
	st := newFlakyStore(t)
	env := newTestEnvWithStore(t, st)
	st.failCreateChat.Store(2)

	rec := &recorder{}
	conv := env.svc.NewConversation("", rec)
	conv.Open(context.Background())
	conv.HandleFrame(context.Background(), []byte(`{"content":"hi"}`))

	assert.Equal(t, []string{`{"errors":"chat_init_failed"}`, `{"errors":"chat_init_failed"}`}, rec.Raw())
	assert.Equal(t, int32(0), st.appends.Load())
	assert.Empty(t, env.gateway.Calls())
}

func TestConversationInvalidFrameDoesNotCreateChat(t *testing.T) {
	st := newFlakyStore(t)
	env := newTestEnvWithStore(t, st)
	st.failCreateChat.Store(1)

	rec := &recorder{}
	conv := env.svc.NewConversation("", rec)
	conv.Open(context.Background())
	conv.HandleFrame(context.Background(), []byte(`{"content":""}`))

	assert.Equal(t, "", conv.ChatID())
	assert.Len(t, rec.Frames(), 2)
}

func TestConversationClosed(t *testing.T) {
	env := newTestEnv(t)
	conv, rec, chatID := env.openConversation(t)

	conv.Close()
	conv.HandleFrame(context.Background(), []byte(`{"content":"hi"}`))

	assert.Equal(t, StateClosed, conv.State())
	assert.Len(t, rec.Frames(), 1)
	assert.Empty(t, history(t, env.store, chatID))
}

func TestConversationCloseDuringGatewayCall(t *testing.T) {
	env := newTestEnv(t)
	conv, rec, chatID := env.openConversation(t)
	env.gateway.respond = func(ctx context.Context, msg domain.Message, _ []domain.Message) inference.Outcome {
		conv.Close()
		return replyOutcome(map[string]string{"content": "late"})
	}

	conv.HandleFrame(context.Background(), []byte(`{"content":"hi"}`))

	// The reply is still persisted; only delivery is dropped.
	assert.Len(t, rec.Frames(), 1)
	stored := history(t, env.store, chatID)
	require.Len(t, stored, 2)
	assert.Equal(t, "late", stored[1].Content)
	assert.Equal(t, StateClosed, conv.State())
}

func TestConversationsAreIndependent(t *testing.T) {
	env := newTestEnv(t)
	const perConn = 5

	type result struct {
		chatID string
	}
	results := make([]result, 2)

	var wg sync.WaitGroup
	for i := range results {
		conv, _, chatID := env.openConversation(t)
		results[i].chatID = chatID
		wg.Add(1)
		go func(i int, conv *Conversation) {
			defer wg.Done()
			for n := 0; n < perConn; n++ {
				conv.HandleFrame(context.Background(), []byte(fmt.Sprintf(`{"content":"conn%d-%d"}`, i, n)))
			}
		}(i, conv)
	}
	wg.Wait()

	for i, r := range results {
		stored := history(t, env.store, r.chatID)
		require.Len(t, stored, perConn*2)
		for n := 0; n < perConn; n++ {
			assert.Equal(t, fmt.Sprintf("conn%d-%d", i, n), stored[2*n].Content)
			assert.Equal(t, fmt.Sprintf("echo: conn%d-%d", i, n), stored[2*n+1].Content)
			assert.Equal(t, r.chatID, stored[2*n].ChatID)
		}
		for j := 1; j < len(stored); j++ {
			assert.False(t, stored[j].CreatedAt.Before(stored[j-1].CreatedAt))
		}
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "calling_gateway", StateCallingGateway.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(99).String())
}
