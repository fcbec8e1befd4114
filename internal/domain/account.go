package domain

import "time"

// User is an application account.
type User struct {
	ID           string    `json:"id"`
	FullName     string    `json:"full_name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Phone        string    `json:"phone,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Form is the metadata of a PDF form kept in object storage for a user.
type Form struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"user"`
	Title        string    `json:"title"`
	PDFBucketURL string    `json:"pdf_bucket_url"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
