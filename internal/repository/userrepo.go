// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository provides access to accounts and their public keys.
type UserRepository interface {
	// Create inserts a new user. A taken username yields errs.ErrAlreadyExists.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByUsername loads a user by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// ListContacts returns every user except exclude, ordered by username.
	ListContacts(ctx context.Context, exclude uuid.UUID) ([]model.Contact, error)
}
