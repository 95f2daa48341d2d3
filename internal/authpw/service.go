// Package authpw provides username/password credential handling.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"courier/api/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username/password")
	ErrUsernameTaken      = errors.New("username already taken")
)

// ValidationError reports a malformed registration payload.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// UserStore defines the storage interface for credentials
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	UpdateLoginTimestamp(ctx context.Context, username string) error
}

// Service verifies and registers user credentials
type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// RegisterRequest contains registration parameters
type RegisterRequest struct {
	Username  string
	Password  string
	FirstName string
	LastName  string
	Phone     string
}

// Register creates a new user account with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	if req.Username == "" || req.Password == "" || req.FirstName == "" || req.LastName == "" || req.Phone == "" {
		return store.User{}, &ValidationError{Message: "username, password, first_name, last_name, and phone are required"}
	}
	if len(req.Password) < 8 {
		return store.User{}, &ValidationError{Message: "password must be at least 8 characters"}
	}

	if _, err := s.store.GetUserByUsername(ctx, req.Username); err == nil {
		return store.User{}, ErrUsernameTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, fmt.Errorf("check username: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, store.User{
		Username:     req.Username,
		PasswordHash: string(hash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Phone:        req.Phone,
	})
	if err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Authenticate checks a username/password pair. Unknown usernames and bad
// passwords fail identically.
func (s *Service) Authenticate(ctx context.Context, username, password string) (store.User, error) {
	if username == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// UpdateLoginTimestamp records a successful login against the user record.
func (s *Service) UpdateLoginTimestamp(ctx context.Context, username string) error {
	return s.store.UpdateLoginTimestamp(ctx, username)
}
