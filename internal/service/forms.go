package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/chatrelay/internal/adapter/objectstore"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// FormUpload is a PDF submitted for a user.
type FormUpload struct {
	Title    string
	Filename string
	Data     []byte
}

func (s *Service) ListForms(ctx context.Context, userID string) ([]domain.Form, error) {
	forms, err := s.store.ListForms(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list forms: %w", err)
	}
	return forms, nil
}

// CreateForm stores the PDF and records it for userID.
func (s *Service) CreateForm(ctx context.Context, userID string, upload FormUpload) (*domain.Form, error) {
	title := strings.TrimSpace(upload.Title)
	fields := map[string][]string{}
	switch {
	case title == "":
		fields["title"] = []string{"This field is required."}
	case utf8.RuneCountInString(title) > maxTitleLength:
		fields["title"] = []string{fmt.Sprintf("Ensure this field has no more than %d characters.", maxTitleLength)}
	}
	if len(upload.Data) == 0 {
		fields["file"] = []string{"The submitted file is empty."}
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	filename := path.Base(strings.ReplaceAll(upload.Filename, "\\", "/"))
	if filename == "." || filename == "/" || filename == "" {
		filename = "form.pdf"
	}

	form := &domain.Form{ID: uuid.New().String(), OwnerID: userID, Title: title}
	url, err := s.objects.Put(ctx, upload.Data, objectstore.FormPath(userID, form.ID, filename), "application/pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to upload form: %w", err)
	}
	form.PDFBucketURL = url

	if err := s.store.CreateForm(ctx, form); err != nil {
		if p, ok := s.objects.PathOf(url); ok {
			_ = s.objects.Delete(ctx, p)
		}
		return nil, fmt.Errorf("failed to create form: %w", err)
	}
	return form, nil
}

// DeleteForm removes one of userID's forms and its stored file.
func (s *Service) DeleteForm(ctx context.Context, userID, formID string) error {
	form, err := s.store.GetForm(ctx, formID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to get form: %w", err)
	}
	if form.OwnerID != userID {
		return domain.ErrNotFound
	}

	if err := s.store.DeleteForm(ctx, formID); err != nil {
		return fmt.Errorf("failed to delete form: %w", err)
	}
	if p, ok := s.objects.PathOf(form.PDFBucketURL); ok {
		if err := s.objects.Delete(ctx, p); err != nil {
			s.log.Warn("failed to delete form file", "form_id", formID, "err", err)
		}
	}
	return nil
}
