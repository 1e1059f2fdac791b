package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/RezaEskandarii/csvimport/custom_errors"
	"github.com/RezaEskandarii/csvimport/internal/store"
	"github.com/RezaEskandarii/csvimport/types"
	"golang.org/x/crypto/bcrypt"
)

type UserStore struct {
	mu     sync.RWMutex
	nextID int64
	users  map[string]types.User
	cost   int
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]types.User), cost: bcrypt.DefaultCost}
}

var _ store.UserStore = (*UserStore)(nil)

func (s *UserStore) Create(_ context.Context, username, password string) (int64, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return 0, fmt.Errorf("user %q: %w", username, custom_errors.ErrAlreadyExists)
	}
	s.nextID++
	s.users[username] = types.User{ID: s.nextID, Username: username, Password: string(hashedPassword)}
	return s.nextID, nil
}

func (s *UserStore) Authenticate(_ context.Context, username, password string) (*types.User, error) {
	s.mu.RLock()
	user, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, nil
	}
	user.Password = ""
	return &user, nil
}

func (s *UserStore) FindByUsername(_ context.Context, username string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return nil, nil
	}
	user.Password = ""
	return &user, nil
}

func (s *UserStore) Delete(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return fmt.Errorf("user %q: %w", username, custom_errors.ErrNotFound)
	}
	delete(s.users, username)
	return nil
}
