package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite store and applies migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", withForeignKeys(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if isMemoryDSN(dsn) {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteStore{db: db, now: currentTime}, nil
}

func isMemoryDSN(dsn string) bool {
	return strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// withForeignKeys enables foreign key enforcement on every pooled connection.
func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// CreateChat creates a new draft chat.
func (s *SQLiteStore) CreateChat(ctx context.Context, ownerID string) (*domain.Chat, error) {
	now := s.now()
	chat := &domain.Chat{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Status:    domain.ChatStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, owner_id, title, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		chat.ID, nullString(ownerID), chat.Title, chat.Status, toMicros(now), toMicros(now))
	if err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	return chat, nil
}

// GetChat retrieves a chat by id.
func (s *SQLiteStore) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, status, created_at, updated_at FROM chats WHERE id = ?`, chatID)
	chat, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// ListChats lists the chats of an owner, newest first.
func (s *SQLiteStore) ListChats(ctx context.Context, ownerID string) ([]domain.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, title, status, created_at, updated_at FROM chats WHERE owner_id = ? ORDER BY created_at DESC, rowid DESC`,
		ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := []domain.Chat{}
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *chat)
	}
	return chats, rows.Err()
}

// UpdateChat applies update to a chat and returns the result.
func (s *SQLiteStore) UpdateChat(ctx context.Context, chatID string, update domain.ChatUpdate) (*domain.Chat, error) {
	if update.Status != nil && !update.Status.Valid() {
		return nil, domain.ErrInvalidStatus
	}

	sets := []string{"updated_at = ?"}
	args := []interface{}{toMicros(s.now())}
	if update.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *update.Title)
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *update.Status)
	}
	args = append(args, chatID)

	res, err := s.db.ExecContext(ctx, `UPDATE chats SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrNotFound
	}
	return s.GetChat(ctx, chatID)
}

// DeleteChat removes a chat and its messages.
func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AppendMessage inserts a message and returns its generated id.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) (string, error) {
	id := uuid.New().String()
	createdAt := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, role, content, created_at, response_file_url) VALUES (?, ?, ?, ?, ?, ?)`,
		id, msg.ChatID, msg.Role, msg.Content, toMicros(createdAt), nullString(msg.ResponseFileURL))
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	msg.ID = id
	msg.CreatedAt = createdAt
	return id, nil
}

// ChatHistory returns the messages of a chat in creation order.
func (s *SQLiteStore) ChatHistory(ctx context.Context, chatID, excludeID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, created_at, response_file_url FROM messages
		 WHERE chat_id = ? AND id != ? ORDER BY created_at ASC, seq ASC`,
		chatID, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var createdAt int64
		var fileURL sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &createdAt, &fileURL); err != nil {
			return nil, err
		}
		msg.CreatedAt = fromMicros(createdAt)
		msg.ResponseFileURL = fileURL.String
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// SetResponseFileURL stores the attachment URL of a message.
func (s *SQLiteStore) SetResponseFileURL(ctx context.Context, messageID, url string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET response_file_url = ? WHERE id = ?`, url, messageID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CreateUser inserts a user, generating the id when empty.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := s.now()
	user.CreatedAt, user.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, full_name, email, password_hash, phone, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.FullName, user.Email, nullString(user.PasswordHash), nullString(user.Phone), toMicros(now), toMicros(now))
	if isUniqueViolation(err) {
		return domain.ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.getUser(ctx, `WHERE id = ?`, userID)
}

// GetUserByEmail retrieves a user by email, ignoring case.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUser(ctx, `WHERE lower(email) = lower(?)`, email)
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg string) (*domain.User, error) {
	var user domain.User
	var passwordHash, phone sql.NullString
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, full_name, email, password_hash, phone, created_at, updated_at FROM users `+where, arg).
		Scan(&user.ID, &user.FullName, &user.Email, &passwordHash, &phone, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	user.PasswordHash = passwordHash.String
	user.Phone = phone.String
	user.CreatedAt = fromMicros(createdAt)
	user.UpdatedAt = fromMicros(updatedAt)
	return &user, nil
}

// DeleteUser removes a user together with their chats and forms.
func (s *SQLiteStore) DeleteUser(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CreateForm inserts a form, generating the id when empty.
func (s *SQLiteStore) CreateForm(ctx context.Context, form *domain.Form) error {
	if form.ID == "" {
		form.ID = uuid.New().String()
	}
	now := s.now()
	form.CreatedAt, form.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO forms (id, owner_id, title, pdf_bucket_url, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		form.ID, form.OwnerID, form.Title, form.PDFBucketURL, toMicros(now), toMicros(now))
	if err != nil {
		return fmt.Errorf("insert form: %w", err)
	}
	return nil
}

// GetForm retrieves a form by id.
func (s *SQLiteStore) GetForm(ctx context.Context, formID string) (*domain.Form, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, pdf_bucket_url, created_at, updated_at FROM forms WHERE id = ?`, formID)
	form, err := scanForm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return form, nil
}

// ListForms lists an owner's forms, newest first.
func (s *SQLiteStore) ListForms(ctx context.Context, ownerID string) ([]domain.Form, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, title, pdf_bucket_url, created_at, updated_at FROM forms WHERE owner_id = ? ORDER BY created_at DESC, rowid DESC`,
		ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	forms := []domain.Form{}
	for rows.Next() {
		form, err := scanForm(rows)
		if err != nil {
			return nil, err
		}
		forms = append(forms, *form)
	}
	return forms, rows.Err()
}

// DeleteForm removes a form record.
func (s *SQLiteStore) DeleteForm(ctx context.Context, formID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM forms WHERE id = ?`, formID)
	if err != nil {
		return fmt.Errorf("delete form: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChat(row rowScanner) (*domain.Chat, error) {
	var chat domain.Chat
	var ownerID sql.NullString
	var createdAt, updatedAt int64
	if err := row.Scan(&chat.ID, &ownerID, &chat.Title, &chat.Status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	chat.OwnerID = ownerID.String
	chat.CreatedAt = fromMicros(createdAt)
	chat.UpdatedAt = fromMicros(updatedAt)
	return &chat, nil
}

func scanForm(row rowScanner) (*domain.Form, error) {
	var form domain.Form
	var createdAt, updatedAt int64
	if err := row.Scan(&form.ID, &form.OwnerID, &form.Title, &form.PDFBucketURL, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	form.CreatedAt = fromMicros(createdAt)
	form.UpdatedAt = fromMicros(updatedAt)
	return &form, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
