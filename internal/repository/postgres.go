package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore migrates the database at databaseURL and opens a pool on it.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if err := migratePostgres(databaseURL); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	pool, err := NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, now: currentTime}, nil
}

// NewPool opens and pings a pgx pool.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// CreateChat creates a new draft chat.
func (s *PostgresStore) CreateChat(ctx context.Context, ownerID string) (*domain.Chat, error) {
	now := s.now()
	chat := &domain.Chat{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Status:    domain.ChatStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chats (id, owner_id, title, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		chat.ID, nullable(ownerID), chat.Title, string(chat.Status), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	return chat, nil
}

const pgChatColumns = `id, owner_id, title, status, created_at, updated_at`

func scanPgChat(row pgx.Row) (*domain.Chat, error) {
	var chat domain.Chat
	var ownerID *string
	var status string
	if err := row.Scan(&chat.ID, &ownerID, &chat.Title, &status, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
		return nil, err
	}
	chat.OwnerID = deref(ownerID)
	chat.Status = domain.ChatStatus(status)
	chat.CreatedAt = chat.CreatedAt.UTC()
	chat.UpdatedAt = chat.UpdatedAt.UTC()
	return &chat, nil
}

// GetChat retrieves a chat by id.
func (s *PostgresStore) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	chat, err := scanPgChat(s.pool.QueryRow(ctx, `SELECT `+pgChatColumns+` FROM chats WHERE id = $1`, chatID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return chat, err
}

// ListChats lists the chats of an owner, newest first.
func (s *PostgresStore) ListChats(ctx context.Context, ownerID string) ([]domain.Chat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgChatColumns+` FROM chats WHERE owner_id = $1 ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chats := []domain.Chat{}
	for rows.Next() {
		chat, err := scanPgChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *chat)
	}
	return chats, rows.Err()
}

// UpdateChat applies update to a chat and returns the result.
func (s *PostgresStore) UpdateChat(ctx context.Context, chatID string, update domain.ChatUpdate) (*domain.Chat, error) {
	if update.Status != nil && !update.Status.Valid() {
		return nil, domain.ErrInvalidStatus
	}

	sets := []string{"updated_at = $1"}
	args := []interface{}{s.now()}
	if update.Title != nil {
		args = append(args, *update.Title)
		sets = append(sets, "title = $"+strconv.Itoa(len(args)))
	}
	if update.Status != nil {
		args = append(args, string(*update.Status))
		sets = append(sets, "status = $"+strconv.Itoa(len(args)))
	}
	args = append(args, chatID)

	query := `UPDATE chats SET ` + strings.Join(sets, ", ") + ` WHERE id = $` + strconv.Itoa(len(args)) + ` RETURNING ` + pgChatColumns
	chat, err := scanPgChat(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update chat: %w", err)
	}
	return chat, nil
}

// DeleteChat removes a chat and its messages.
func (s *PostgresStore) DeleteChat(ctx context.Context, chatID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, chatID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AppendMessage inserts a message and returns its generated id.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *domain.Message) (string, error) {
	id := uuid.New().String()
	createdAt := s.now()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, chat_id, role, content, created_at, response_file_url) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, msg.ChatID, string(msg.Role), msg.Content, createdAt, nullable(msg.ResponseFileURL))
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	msg.ID = id
	msg.CreatedAt = createdAt
	return id, nil
}

// ChatHistory returns the messages of a chat in creation order.
func (s *PostgresStore) ChatHistory(ctx context.Context, chatID, excludeID string) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, role, content, created_at, response_file_url FROM messages
		 WHERE chat_id = $1 AND id <> $2 ORDER BY created_at ASC, seq ASC`,
		chatID, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var role string
		var fileURL *string
		if err := rows.Scan(&msg.ID, &msg.ChatID, &role, &msg.Content, &msg.CreatedAt, &fileURL); err != nil {
			return nil, err
		}
		msg.Role = domain.Role(role)
		msg.CreatedAt = msg.CreatedAt.UTC()
		msg.ResponseFileURL = deref(fileURL)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// SetResponseFileURL stores the attachment URL of a message.
func (s *PostgresStore) SetResponseFileURL(ctx context.Context, messageID, url string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE messages SET response_file_url = $1 WHERE id = $2`, url, messageID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CreateUser inserts a user, generating the id when empty.
func (s *PostgresStore) CreateUser(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := s.now()
	user.CreatedAt, user.UpdatedAt = now, now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, full_name, email, password_hash, phone, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.FullName, user.Email, nullable(user.PasswordHash), nullable(user.Phone), now, now)
	if isPgUniqueViolation(err) {
		return domain.ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id.
func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, userID)
}

// GetUserByEmail retrieves a user by email, ignoring case.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUser(ctx, `WHERE lower(email) = lower($1)`, email)
}

func (s *PostgresStore) getUser(ctx context.Context, where, arg string) (*domain.User, error) {
	var user domain.User
	var passwordHash, phone *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, full_name, email, password_hash, phone, created_at, updated_at FROM users `+where, arg).
		Scan(&user.ID, &user.FullName, &user.Email, &passwordHash, &phone, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	user.PasswordHash = deref(passwordHash)
	user.Phone = deref(phone)
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return &user, nil
}

// DeleteUser removes a user together with their chats and forms.
func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CreateForm inserts a form, generating the id when empty.
func (s *PostgresStore) CreateForm(ctx context.Context, form *domain.Form) error {
	if form.ID == "" {
		form.ID = uuid.New().String()
	}
	now := s.now()
	form.CreatedAt, form.UpdatedAt = now, now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO forms (id, owner_id, title, pdf_bucket_url, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		form.ID, form.OwnerID, form.Title, form.PDFBucketURL, now, now)
	if err != nil {
		return fmt.Errorf("insert form: %w", err)
	}
	return nil
}

const pgFormColumns = `id, owner_id, title, pdf_bucket_url, created_at, updated_at`

func scanPgForm(row pgx.Row) (*domain.Form, error) {
	var form domain.Form
	if err := row.Scan(&form.ID, &form.OwnerID, &form.Title, &form.PDFBucketURL, &form.CreatedAt, &form.UpdatedAt); err != nil {
		return nil, err
	}
	form.CreatedAt = form.CreatedAt.UTC()
	form.UpdatedAt = form.UpdatedAt.UTC()
	return &form, nil
}

// GetForm retrieves a form by id.
func (s *PostgresStore) GetForm(ctx context.Context, formID string) (*domain.Form, error) {
	form, err := scanPgForm(s.pool.QueryRow(ctx, `SELECT `+pgFormColumns+` FROM forms WHERE id = $1`, formID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return form, err
}

// ListForms lists an owner's forms, newest first.
func (s *PostgresStore) ListForms(ctx context.Context, ownerID string) ([]domain.Form, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgFormColumns+` FROM forms WHERE owner_id = $1 ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	forms := []domain.Form{}
	for rows.Next() {
		form, err := scanPgForm(rows)
		if err != nil {
			return nil, err
		}
		forms = append(forms, *form)
	}
	return forms, rows.Err()
}

// DeleteForm removes a form record.
func (s *PostgresStore) DeleteForm(ctx context.Context, formID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM forms WHERE id = $1`, formID)
	if err != nil {
		return fmt.Errorf("delete form: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
