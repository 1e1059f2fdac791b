package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/RezaEskandarii/csvimport/custom_errors"
	"github.com/RezaEskandarii/csvimport/internal/store"
	"github.com/RezaEskandarii/csvimport/types"
	"golang.org/x/crypto/bcrypt"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type SQLiteUserStore struct {
	db   *sql.DB
	cost int
}

func NewSQLiteUserStore(db *sql.DB) *SQLiteUserStore {
	return &SQLiteUserStore{db: db, cost: bcrypt.DefaultCost}
}

var _ store.UserStore = (*SQLiteUserStore)(nil)

func (s *SQLiteUserStore) Create(ctx context.Context, username, password string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password, created_at) VALUES (?, ?, ?)`,
		username, string(hash), time.Now().UTC())
	if isConstraintViolation(err) {
		return 0, fmt.Errorf("user %q: %w", username, custom_errors.ErrAlreadyExists)
	}
	if err != nil {
		return 0, custom_errors.NewStoreError("create user", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteUserStore) Authenticate(ctx context.Context, username, password string) (*types.User, error) {
	user, err := s.lookup(ctx, username)
	if err != nil || user == nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, nil
	}
	user.Password = ""
	return user, nil
}

func (s *SQLiteUserStore) FindByUsername(ctx context.Context, username string) (*types.User, error) {
	user, err := s.lookup(ctx, username)
	if user != nil {
		user.Password = ""
	}
	return user, err
}

func (s *SQLiteUserStore) Delete(ctx context.Context, username string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return custom_errors.NewStoreError("delete user", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return custom_errors.NewStoreError("delete user", err)
	}
	if n == 0 {
		return fmt.Errorf("user %q: %w", username, custom_errors.ErrNotFound)
	}
	return nil
}

func (s *SQLiteUserStore) lookup(ctx context.Context, username string) (*types.User, error) {
	var user types.User
	err := s.db.QueryRowContext(ctx, `SELECT id, username, password FROM users WHERE username = ?`, username).
		Scan(&user.ID, &user.Username, &user.Password)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, custom_errors.NewStoreError("find user", err)
	}
	return &user, nil
}

// Extended result codes keep the primary code in the low byte.
func isConstraintViolation(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
