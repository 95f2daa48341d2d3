package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	const query = `
		INSERT INTO users (username, password_hash, first_name, last_name, phone, join_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING username, first_name, last_name, phone, join_at
	`
	var created User
	err := s.db.QueryRowContext(ctx, query,
		user.Username, user.PasswordHash, user.FirstName, user.LastName, user.Phone,
	).Scan(&created.Username, &created.FirstName, &created.LastName, &created.Phone, &created.JoinAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

// GetUserByUsername returns the full user record including the password
// hash; callers that shape responses must go through Profile.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	const query = `
		SELECT username, password_hash, first_name, last_name, phone, join_at, last_login_at
		FROM users
		WHERE username = $1
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.Username, &user.PasswordHash, &user.FirstName, &user.LastName,
		&user.Phone, &user.JoinAt, &user.LastLoginAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, err
		}
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) UserExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE username=$1)`, username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) UpdateLoginTimestamp(ctx context.Context, username string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login_at=NOW() WHERE username=$1`, username,
	)
	if err != nil {
		return fmt.Errorf("update login timestamp: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	const query = `
		SELECT username, first_name, last_name, phone
		FROM users
		ORDER BY username
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.Username, &user.FirstName, &user.LastName, &user.Phone); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// GetMessage loads a message with both parties expanded. sql.ErrNoRows
// passes through untouched so callers can map it to their not-found kind.
func (s *PostgresStore) GetMessage(ctx context.Context, id int64) (MessageDetail, error) {
	const query = `
		SELECT m.id, m.from_username, m.to_username, m.body, m.sent_at, m.read_at,
			f.first_name, f.last_name, f.phone,
			t.first_name, t.last_name, t.phone
		FROM messages m
		JOIN users f ON f.username = m.from_username
		JOIN users t ON t.username = m.to_username
		WHERE m.id = $1
	`
	var detail MessageDetail
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&detail.ID, &detail.FromUsername, &detail.ToUsername, &detail.Body,
		&detail.SentAt, &detail.ReadAt,
		&detail.FromUser.FirstName, &detail.FromUser.LastName, &detail.FromUser.Phone,
		&detail.ToUser.FirstName, &detail.ToUser.LastName, &detail.ToUser.Phone,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MessageDetail{}, err
		}
		return MessageDetail{}, fmt.Errorf("lookup message: %w", err)
	}
	detail.FromUser.Username = detail.FromUsername
	detail.ToUser.Username = detail.ToUsername
	return detail, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, fromUsername, toUsername, body string) (Message, error) {
	const query = `
		INSERT INTO messages (from_username, to_username, body, sent_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, from_username, to_username, body, sent_at
	`
	var message Message
	err := s.db.QueryRowContext(ctx, query, fromUsername, toUsername, body).Scan(
		&message.ID, &message.FromUsername, &message.ToUsername, &message.Body, &message.SentAt,
	)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return message, nil
}

// MarkMessageRead transitions read_at from NULL to now. The UPDATE is
// conditional on read_at being NULL, so a duplicate or racing call never
// overwrites an earlier timestamp; the returned bool reports whether this
// call performed the transition.
func (s *PostgresStore) MarkMessageRead(ctx context.Context, id int64) (time.Time, bool, error) {
	var readAt time.Time
	err := s.db.QueryRowContext(ctx, `
		UPDATE messages SET read_at=NOW()
		WHERE id=$1 AND read_at IS NULL
		RETURNING read_at
	`, id).Scan(&readAt)
	if err == nil {
		return readAt, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, fmt.Errorf("mark message read: %w", err)
	}

	// Already read (or gone): return the existing timestamp unchanged.
	var existing *time.Time
	err = s.db.QueryRowContext(ctx, `SELECT read_at FROM messages WHERE id=$1`, id).Scan(&existing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, err
		}
		return time.Time{}, false, fmt.Errorf("read message state: %w", err)
	}
	if existing == nil {
		return time.Time{}, false, fmt.Errorf("mark message read: lost conditional update on message %d", id)
	}
	return *existing, false, nil
}

// MessagesTo returns messages addressed to username, each with the sender
// expanded.
func (s *PostgresStore) MessagesTo(ctx context.Context, username string) ([]MessageDetail, error) {
	const query = `
		SELECT m.id, m.from_username, m.body, m.sent_at, m.read_at,
			f.first_name, f.last_name, f.phone
		FROM messages m
		JOIN users f ON f.username = m.from_username
		WHERE m.to_username = $1
		ORDER BY m.sent_at
	`
	rows, err := s.db.QueryContext(ctx, query, username)
	if err != nil {
		return nil, fmt.Errorf("list messages to: %w", err)
	}
	defer rows.Close()

	var items []MessageDetail
	for rows.Next() {
		var detail MessageDetail
		if err := rows.Scan(
			&detail.ID, &detail.FromUsername, &detail.Body, &detail.SentAt, &detail.ReadAt,
			&detail.FromUser.FirstName, &detail.FromUser.LastName, &detail.FromUser.Phone,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		detail.ToUsername = username
		detail.FromUser.Username = detail.FromUsername
		items = append(items, detail)
	}
	return items, rows.Err()
}

// MessagesFrom returns messages sent by username, each with the recipient
// expanded.
func (s *PostgresStore) MessagesFrom(ctx context.Context, username string) ([]MessageDetail, error) {
	const query = `
		SELECT m.id, m.to_username, m.body, m.sent_at, m.read_at,
			t.first_name, t.last_name, t.phone
		FROM messages m
		JOIN users t ON t.username = m.to_username
		WHERE m.from_username = $1
		ORDER BY m.sent_at
	`
	rows, err := s.db.QueryContext(ctx, query, username)
	if err != nil {
		return nil, fmt.Errorf("list messages from: %w", err)
	}
	defer rows.Close()

	var items []MessageDetail
	for rows.Next() {
		var detail MessageDetail
		if err := rows.Scan(
			&detail.ID, &detail.ToUsername, &detail.Body, &detail.SentAt, &detail.ReadAt,
			&detail.ToUser.FirstName, &detail.ToUser.LastName, &detail.ToUser.Phone,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		detail.FromUsername = username
		detail.ToUser.Username = detail.ToUsername
		items = append(items, detail)
	}
	return items, rows.Err()
}
