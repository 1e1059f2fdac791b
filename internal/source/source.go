// Package source keeps uploaded files until a worker has imported them.
package source

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store saves uploaded content under a generated name and hands it back by reference.
type Store interface {
	// Save copies r and returns an opaque reference to the stored content.
	Save(ctx context.Context, filename string, r io.Reader) (string, error)
	// Open returns custom_errors.ErrNotFound when nothing is stored under ref.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	// Remove returns custom_errors.ErrNotFound when nothing is stored under ref.
	Remove(ctx context.Context, ref string) error
}

// StoredName returns a collision-free name that keeps the lower-cased extension of filename.
func StoredName(filename string) string {
	name := strings.ReplaceAll(uuid.NewString(), "-", "")
	return name + strings.ToLower(filepath.Ext(filename))
}
