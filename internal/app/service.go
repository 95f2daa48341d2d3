package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"courier/api/internal/auth"
	"courier/api/internal/authpw"
	"courier/api/internal/store"
)

// Session is the identity resolved from a bearer token for the lifetime of
// one request.
type Session struct {
	Username string
}

type dataStore interface {
	GetUserByUsername(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) (store.User, error)
	UserExists(context.Context, string) (bool, error)
	UpdateLoginTimestamp(context.Context, string) error
	ListUsers(context.Context) ([]store.User, error)
	GetMessage(context.Context, int64) (store.MessageDetail, error)
	CreateMessage(context.Context, string, string, string) (store.Message, error)
	MarkMessageRead(context.Context, int64) (time.Time, bool, error)
	MessagesTo(context.Context, string) ([]store.MessageDetail, error)
	MessagesFrom(context.Context, string) ([]store.MessageDetail, error)
	Ping(ctx context.Context) error
}

type Service struct {
	store  dataStore
	creds  *authpw.Service
	issuer *auth.Issuer
}

func New(dataStore dataStore, creds *authpw.Service, issuer *auth.Issuer) *Service {
	return &Service{
		store:  dataStore,
		creds:  creds,
		issuer: issuer,
	}
}

// Login verifies credentials, issues a session token, and records the
// login time. The timestamp update is a separate collaborator call; token
// issuance itself has no side effects.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.creds.Authenticate(ctx, strings.TrimSpace(username), password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			return "", invalidCredentials()
		}
		return "", err
	}

	token, err := s.issuer.Issue(user.Username)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}

	if err := s.store.UpdateLoginTimestamp(ctx, user.Username); err != nil {
		return "", err
	}
	return token, nil
}

// Register creates an account and logs the new user straight in.
func (s *Service) Register(ctx context.Context, req authpw.RegisterRequest) (string, error) {
	req.Username = strings.TrimSpace(req.Username)

	user, err := s.creds.Register(ctx, req)
	if err != nil {
		var validationErr *authpw.ValidationError
		if errors.As(err, &validationErr) {
			return "", validation(validationErr.Message)
		}
		if errors.Is(err, authpw.ErrUsernameTaken) {
			return "", validation("username already taken")
		}
		return "", err
	}

	token, err := s.issuer.Issue(user.Username)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}

	if err := s.store.UpdateLoginTimestamp(ctx, user.Username); err != nil {
		return "", err
	}
	return token, nil
}

// SessionFromToken resolves a bearer token to an identity. It is pure
// token verification: no store lookups, no side effects.
func (s *Service) SessionFromToken(token string) (Session, error) {
	username, err := s.issuer.Verify(token)
	if err != nil {
		return Session{}, err
	}
	return Session{Username: username}, nil
}

// GetMessage returns a message with both parties expanded. Only the sender
// or the recipient may view it; everyone else gets the same not-found
// failure as a nonexistent id, so existence is never revealed to
// non-parties.
func (s *Service) GetMessage(ctx context.Context, actor string, id int64) (map[string]any, error) {
	detail, err := s.store.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Message can not be found")
		}
		return nil, err
	}

	if actor != detail.FromUsername && actor != detail.ToUsername {
		return nil, notFound("Message can not be found")
	}

	return map[string]any{
		"message": map[string]any{
			"id":        detail.ID,
			"body":      detail.Body,
			"sent_at":   detail.SentAt,
			"read_at":   detail.ReadAt,
			"from_user": detail.FromUser,
			"to_user":   detail.ToUser,
		},
	}, nil
}

// SendMessage creates a message from actor to toUsername. The sender is
// always the authenticated actor; a from_username in the request payload
// is ignored by the handler and never reaches this method.
func (s *Service) SendMessage(ctx context.Context, actor, toUsername, body string) (map[string]any, error) {
	toUsername = strings.TrimSpace(toUsername)
	if toUsername == "" {
		return nil, validation("to_username is required")
	}
	if strings.TrimSpace(body) == "" {
		return nil, validation("body is required")
	}

	exists, err := s.store.UserExists(ctx, toUsername)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, notFound("recipient does not exist")
	}

	message, err := s.store.CreateMessage(ctx, actor, toUsername, body)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"message": map[string]any{
			"id":            message.ID,
			"from_username": message.FromUsername,
			"to_username":   message.ToUsername,
			"body":          message.Body,
			"sent_at":       message.SentAt,
		},
	}, nil
}

// MarkMessageRead transitions a message to read. Only the recipient may do
// this; any other actor, sender included, gets a forbidden failure. The
// underlying transition is conditional, so a repeat call returns the
// original read_at unchanged.
func (s *Service) MarkMessageRead(ctx context.Context, actor string, id int64) (map[string]any, error) {
	detail, err := s.store.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Message can not be found")
		}
		return nil, err
	}

	if actor != detail.ToUsername {
		return nil, forbidden(fmt.Sprintf("%s can not set message to read", actor))
	}

	readAt, _, err := s.store.MarkMessageRead(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Message can not be found")
		}
		return nil, err
	}

	return map[string]any{
		"message": map[string]any{
			"id":      detail.ID,
			"read_at": readAt,
		},
	}, nil
}

// ListUsers returns every user's public profile.
func (s *Service) ListUsers(ctx context.Context) (map[string]any, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	profiles := make([]store.Profile, 0, len(users))
	for _, user := range users {
		profiles = append(profiles, user.Profile())
	}
	return map[string]any{"users": profiles}, nil
}

// GetUser returns a user's public profile. Users may only view their own
// record.
func (s *Service) GetUser(ctx context.Context, actor, username string) (map[string]any, error) {
	if actor != username {
		return nil, forbidden(fmt.Sprintf("%s can not view this user", actor))
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("User can not be found")
		}
		return nil, err
	}
	return map[string]any{"user": user.Profile()}, nil
}

// MessagesTo lists the messages addressed to username, sender expanded.
// Self-only.
func (s *Service) MessagesTo(ctx context.Context, actor, username string) (map[string]any, error) {
	if actor != username {
		return nil, forbidden(fmt.Sprintf("%s can not view these messages", actor))
	}

	items, err := s.store.MessagesTo(ctx, username)
	if err != nil {
		return nil, err
	}

	messages := make([]map[string]any, 0, len(items))
	for _, item := range items {
		messages = append(messages, map[string]any{
			"id":        item.ID,
			"body":      item.Body,
			"sent_at":   item.SentAt,
			"read_at":   item.ReadAt,
			"from_user": item.FromUser,
		})
	}
	return map[string]any{"messages": messages}, nil
}

// MessagesFrom lists the messages sent by username, recipient expanded.
// Self-only.
func (s *Service) MessagesFrom(ctx context.Context, actor, username string) (map[string]any, error) {
	if actor != username {
		return nil, forbidden(fmt.Sprintf("%s can not view these messages", actor))
	}

	items, err := s.store.MessagesFrom(ctx, username)
	if err != nil {
		return nil, err
	}

	messages := make([]map[string]any, 0, len(items))
	for _, item := range items {
		messages = append(messages, map[string]any{
			"id":      item.ID,
			"body":    item.Body,
			"sent_at": item.SentAt,
			"read_at": item.ReadAt,
			"to_user": item.ToUser,
		})
	}
	return map[string]any{"messages": messages}, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
