package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

func createUser(t *testing.T, env *testEnv, email string) string {
	t.Helper()
	session, err := env.svc.Register(context.Background(), email, "long-password")
	require.NoError(t, err)
	return session.User.ID
}

func TestChatAccess(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := createUser(t, env, "owner@example.com")
	stranger := createUser(t, env, "stranger@example.com")

	chat, err := env.store.CreateChat(ctx, owner)
	require.NoError(t, err)
	_, err = env.store.AppendMessage(ctx, &domain.Message{ChatID: chat.ID, Role: domain.RoleUser, Content: "hi"})
	require.NoError(t, err)

	chats, err := env.svc.ListChats(ctx, owner)
	require.NoError(t, err)
	require.Len(t, chats, 1)

	messages, err := env.svc.ChatMessages(ctx, owner, chat.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 1)

	_, err = env.svc.ChatMessages(ctx, stranger, chat.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	title := "  Tax return  "
	active := domain.ChatStatusActive
	updated, err := env.svc.UpdateChat(ctx, owner, chat.ID, domain.ChatUpdate{Title: &title, Status: &active})
	require.NoError(t, err)
	assert.Equal(t, "Tax return", updated.Title)
	assert.Equal(t, domain.ChatStatusActive, updated.Status)

	_, err = env.svc.UpdateChat(ctx, stranger, chat.ID, domain.ChatUpdate{Title: &title})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	assert.ErrorIs(t, env.svc.DeleteChat(ctx, stranger, chat.ID), domain.ErrForbidden)
	require.NoError(t, env.svc.DeleteChat(ctx, owner, chat.ID))
	assert.ErrorIs(t, env.svc.DeleteChat(ctx, owner, chat.ID), domain.ErrNotFound)
}

func TestAnonymousChatIsReadOnly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := createUser(t, env, "reader@example.com")

	chat, err := env.store.CreateChat(ctx, "")
	require.NoError(t, err)

	_, err = env.svc.ChatMessages(ctx, user, chat.ID)
	assert.NoError(t, err)
	assert.ErrorIs(t, env.svc.DeleteChat(ctx, user, chat.ID), domain.ErrForbidden)
}

func TestUpdateChatValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := createUser(t, env, "v@example.com")
	chat, err := env.store.CreateChat(ctx, owner)
	require.NoError(t, err)

	long := strings.Repeat("x", 256)
	_, err = env.svc.UpdateChat(ctx, owner, chat.ID, domain.ChatUpdate{Title: &long})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	bad := domain.ChatStatus("archived")
	_, err = env.svc.UpdateChat(ctx, owner, chat.ID, domain.ChatUpdate{Status: &bad})
	assert.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "status")
}
