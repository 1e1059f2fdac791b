package store

import (
	"context"

	"github.com/RezaEskandarii/csvimport/types"
)

// UserStore keeps the accounts that own uploads. Passwords are stored as bcrypt hashes.
type UserStore interface {
	// Create returns an error wrapping custom_errors.ErrAlreadyExists when username is taken.
	Create(ctx context.Context, username, password string) (int64, error)

	// Authenticate returns nil and no error when the user is unknown or the password does not match.
	Authenticate(ctx context.Context, username, password string) (*types.User, error)

	FindByUsername(ctx context.Context, username string) (*types.User, error)

	Delete(ctx context.Context, username string) error
}
