package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatrelay/internal/adapter/inference"
	"github.com/xiaot623/gogo/chatrelay/internal/adapter/objectstore"
	"github.com/xiaot623/gogo/chatrelay/internal/auth"
	"github.com/xiaot623/gogo/chatrelay/internal/config"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
	"github.com/xiaot623/gogo/chatrelay/internal/logger"
	"github.com/xiaot623/gogo/chatrelay/internal/policy"
	"github.com/xiaot623/gogo/chatrelay/internal/repository"
	"github.com/xiaot623/gogo/chatrelay/tests/helpers"
)

// gatewayCall records one Send invocation.
type gatewayCall struct {
	NewMessage domain.Message
	History    []domain.Message
}

// fakeGateway answers with respond and records every call.
type fakeGateway struct {
	mu      sync.Mutex
	calls   []gatewayCall
	respond func(ctx context.Context, msg domain.Message, history []domain.Message) inference.Outcome
}

func (g *fakeGateway) Send(ctx context.Context, endpoint string, msg domain.Message, history []domain.Message) inference.Outcome {
	g.mu.Lock()
	g.calls = append(g.calls, gatewayCall{NewMessage: msg, History: history})
	g.mu.Unlock()
	if g.respond != nil {
		return g.respond(ctx, msg, history)
	}
	return replyOutcome(map[string]interface{}{"role": "assistant", "content": "echo: " + msg.Content})
}

func (g *fakeGateway) Calls() []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gatewayCall(nil), g.calls...)
}

func replyOutcome(body interface{}) inference.Outcome {
	b, _ := json.Marshal(body)
	return inference.Outcome{Status: http.StatusOK, Body: b}
}

// recorder collects emitted frames as decoded JSON.
type recorder struct {
	mu     sync.Mutex
	frames []map[string]interface{}
	raw    []string
}

func (r *recorder) Emit(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, m)
	r.raw = append(r.raw, string(b))
	return nil
}

func (r *recorder) Frames() []map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]interface{}(nil), r.frames...)
}

func (r *recorder) Raw() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.raw...)
}

func (r *recorder) Last(t *testing.T) map[string]interface{} {
	t.Helper()
	frames := r.Frames()
	require.NotEmpty(t, frames)
	return frames[len(frames)-1]
}

type testEnv struct {
	svc      *Service
	store    store.Store
	gateway  *fakeGateway
	objects  *objectstore.LocalStore
	uploader *AttachmentUploader
	tokens   *auth.Tokens
}

func testConfig() *config.Config {
	return &config.Config{
		GatewayURL:       "http://gateway.test/ai/chat",
		GatewayTimeout:   time.Second,
		MaxContentLength: 1000,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, helpers.NewTestSQLiteStore(t))
}

func newTestEnvWithStore(t *testing.T, st store.Store) *testEnv {
	t.Helper()
	objects, err := objectstore.NewLocalStore(t.TempDir(), "http://files.test/objects")
	require.NoError(t, err)

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	log := logger.Discard()
	uploader := NewAttachmentUploader(st, objects, 1, 8, log)
	uploader.Start(context.Background())
	t.Cleanup(uploader.Stop)

	gateway := &fakeGateway{}
	tokens := auth.NewTokens("test-secret", time.Hour)
	svc := New(st, gateway, objects, tokens, engine, uploader, testConfig(), log)
	return &testEnv{svc: svc, store: st, gateway: gateway, objects: objects, uploader: uploader, tokens: tokens}
}

// openConversation opens an anonymous conversation and returns its chat id.
func (e *testEnv) openConversation(t *testing.T) (*Conversation, *recorder, string) {
	t.Helper()
	rec := &recorder{}
	conv := e.svc.NewConversation("", rec)
	conv.Open(context.Background())
	frame := rec.Last(t)
	require.Equal(t, "chat.created", frame["type"])
	return conv, rec, frame["chat_id"].(string)
}
