package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/xiaot623/gogo/chatrelay/internal/auth"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

const (
	minPasswordLength = 8
	// bcrypt only accepts passwords up to this many bytes.
	maxPasswordBytes  = 72
)

// Session is the result of a successful register or login.
type Session struct {
	User  *domain.User
	Token string
}

// Register creates an account and issues its first access token.
func (s *Service) Register(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if err := validateCredentials(email, password, true); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{Email: email, PasswordHash: hash}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			return nil, fieldError("email", "user with this email already exists.")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info("user registered", "user_id", user.ID)
	return &Session{User: user, Token: token}, nil
}

// Login checks credentials and issues an access token.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if err := validateCredentials(email, password, false); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, domain.ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &Session{User: user, Token: token}, nil
}

// Authenticate resolves a bearer token to an existing user id.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	userID, err := s.tokens.Resolve(token)
	if err != nil {
		return "", domain.ErrUnauthorized
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrUnauthorized
		}
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	return userID, nil
}

// ResolveOwner maps a connection token to an owner id. Missing or invalid
// tokens make the connection anonymous.
func (s *Service) ResolveOwner(ctx context.Context, token string) string {
	if token == "" {
		return ""
	}
	userID, err := s.Authenticate(ctx, token)
	if err != nil {
		s.log.Debug("ignoring connection token", "err", err)
		return ""
	}
	return userID
}

// DeleteAccount removes a user with their chats and forms.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	s.log.Info("user deleted", "user_id", userID)
	return nil
}

func validateCredentials(email, password string, register bool) error {
	fields := map[string][]string{}
	if email == "" {
		fields["email"] = []string{"This field is required."}
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		fields["email"] = []string{"Enter a valid email address."}
	}
	switch {
	case password == "":
		fields["password"] = []string{"This field is required."}
	case register && len([]rune(password)) < minPasswordLength:
		fields["password"] = []string{fmt.Sprintf("Ensure this field has at least %d characters.", minPasswordLength)}
	case register && len(password) > maxPasswordBytes:
		fields["password"] = []string{fmt.Sprintf("Ensure this field has no more than %d bytes.", maxPasswordBytes)}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}
