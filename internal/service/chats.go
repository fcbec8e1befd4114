package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
	"github.com/xiaot623/gogo/chatrelay/internal/policy"
)

const maxTitleLength = 255

func (s *Service) ListChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	chats, err := s.store.ListChats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

func (s *Service) ChatMessages(ctx context.Context, userID, chatID string) ([]domain.Message, error) {
	if _, err := s.authorizeChat(ctx, policy.ActionRead, userID, chatID); err != nil {
		return nil, err
	}
	messages, err := s.store.ChatHistory(ctx, chatID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}

func (s *Service) UpdateChat(ctx context.Context, userID, chatID string, update domain.ChatUpdate) (*domain.Chat, error) {
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if utf8.RuneCountInString(title) > maxTitleLength {
			return nil, fieldError("title", fmt.Sprintf("Ensure this field has no more than %d characters.", maxTitleLength))
		}
		update.Title = &title
	}
	if update.Status != nil && !update.Status.Valid() {
		return nil, fieldError("status", fmt.Sprintf("%q is not a valid choice.", *update.Status))
	}
	if _, err := s.authorizeChat(ctx, policy.ActionWrite, userID, chatID); err != nil {
		return nil, err
	}
	chat, err := s.store.UpdateChat(ctx, chatID, update)
	if err != nil {
		return nil, fmt.Errorf("failed to update chat: %w", err)
	}
	return chat, nil
}

func (s *Service) DeleteChat(ctx context.Context, userID, chatID string) error {
	if _, err := s.authorizeChat(ctx, policy.ActionDelete, userID, chatID); err != nil {
		return err
	}
	if err := s.store.DeleteChat(ctx, chatID); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return nil
}

// authorizeChat loads a chat and asks the policy engine whether userID may
// perform action on it.
func (s *Service) authorizeChat(ctx context.Context, action, userID, chatID string) (*domain.Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}

	allowed, err := s.policyEngine.Allowed(ctx, policy.Input{
		Action: action,
		UserID: userID,
		Chat:   policy.ChatSubject{ID: chat.ID, OwnerID: chat.OwnerID},
	})
	if err != nil {
		return nil, err
	}
	if !allowed {
		s.log.Warn("chat access denied", "action", action, "user_id", userID, "chat_id", chatID)
		return nil, domain.ErrForbidden
	}
	return chat, nil
}
