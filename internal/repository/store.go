// Package store defines the storage interfaces and their SQLite and Postgres implementations.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// SessionStore mints chat sessions.
type SessionStore interface {
	// CreateChat creates a draft chat owned by ownerID ("" for anonymous)
	// and generates its id.
	CreateChat(ctx context.Context, ownerID string) (*domain.Chat, error)
}

// HistoryStore is the append-only message log keyed by chat id.
type HistoryStore interface {
	// AppendMessage persists msg, filling in its generated ID and CreatedAt.
	AppendMessage(ctx context.Context, msg *domain.Message) (string, error)
	// ChatHistory returns the chat's messages oldest first, skipping excludeID.
	// It returns an empty slice, not an error, when there are none.
	ChatHistory(ctx context.Context, chatID, excludeID string) ([]domain.Message, error)
	// SetResponseFileURL records the uploaded attachment of a message.
	SetResponseFileURL(ctx context.Context, messageID, url string) error
}

// Store defines the interface for data persistence.
type Store interface {
	SessionStore
	HistoryStore

	// Chat operations
	GetChat(ctx context.Context, chatID string) (*domain.Chat, error)
	ListChats(ctx context.Context, ownerID string) ([]domain.Chat, error)
	UpdateChat(ctx context.Context, chatID string, update domain.ChatUpdate) (*domain.Chat, error)
	DeleteChat(ctx context.Context, chatID string) error

	// User operations
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	DeleteUser(ctx context.Context, userID string) error

	// Form operations
	CreateForm(ctx context.Context, form *domain.Form) error
	GetForm(ctx context.Context, formID string) (*domain.Form, error)
	ListForms(ctx context.Context, ownerID string) ([]domain.Form, error)
	DeleteForm(ctx context.Context, formID string) error

	// Lifecycle
	Close() error
}

// Open selects the store implementation from the database URL: postgres://
// and postgresql:// URLs open Postgres, anything else is a SQLite DSN.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	if IsPostgresURL(databaseURL) {
		return NewPostgresStore(ctx, databaseURL)
	}
	return NewSQLiteStore(databaseURL)
}

// IsPostgresURL reports whether url points at Postgres.
func IsPostgresURL(url string) bool {
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}

// currentTime is the store clock, truncated to the microsecond precision
// both backends persist.
func currentTime() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
