package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/RezaEskandarii/csvimport/custom_errors"
	"github.com/RezaEskandarii/csvimport/internal/store"
	"github.com/RezaEskandarii/csvimport/types"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

const uniqueViolation = pq.ErrorCode("23505")

type PostgresUserStore struct {
	db   *sql.DB
	cost int
}

func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db, cost: bcrypt.DefaultCost}
}

var _ store.UserStore = (*PostgresUserStore)(nil)

func (r *PostgresUserStore) Create(ctx context.Context, username, password string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), r.cost)
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO csvimport.users (username, password, created_at)
		VALUES ($1, $2, now())
		RETURNING id
	`, username, string(hash)).Scan(&id)

	var pqErr *pq.Error
	switch {
	case errors.As(err, &pqErr) && pqErr.Code == uniqueViolation:
		return 0, fmt.Errorf("user %q: %w", username, custom_errors.ErrAlreadyExists)
	case err != nil:
		return 0, custom_errors.NewStoreError("create user", err)
	}
	return id, nil
}

func (r *PostgresUserStore) Authenticate(ctx context.Context, username, password string) (*types.User, error) {
	user, err := r.lookup(ctx, username)
	if err != nil || user == nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, nil
	}
	user.Password = ""
	return user, nil
}

func (r *PostgresUserStore) FindByUsername(ctx context.Context, username string) (*types.User, error) {
	user, err := r.lookup(ctx, username)
	if user != nil {
		user.Password = ""
	}
	return user, err
}

func (r *PostgresUserStore) Delete(ctx context.Context, username string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM csvimport.users WHERE username = $1`, username)
	if err != nil {
		return custom_errors.NewStoreError("delete user", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return custom_errors.NewStoreError("delete user", err)
	} else if n == 0 {
		return fmt.Errorf("user %q: %w", username, custom_errors.ErrNotFound)
	}
	return nil
}

func (r *PostgresUserStore) lookup(ctx context.Context, username string) (*types.User, error) {
	var user types.User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, password FROM csvimport.users WHERE username = $1`, username,
	).Scan(&user.ID, &user.Username, &user.Password)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, custom_errors.NewStoreError("find user", err)
	}
	return &user, nil
}
