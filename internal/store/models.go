package store

import "time"

type User struct {
	Username     string
	FirstName    string
	LastName     string
	Phone        string
	PasswordHash string
	JoinAt       time.Time
	LastLoginAt  *time.Time
}

// Profile is the outward-facing slice of a user record. PasswordHash and
// timestamps never leave the store through this type.
type Profile struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

func (u User) Profile() Profile {
	return Profile{
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Phone:     u.Phone,
	}
}

type Message struct {
	ID           int64
	FromUsername string
	ToUsername   string
	Body         string
	SentAt       time.Time
	ReadAt       *time.Time
}

// MessageDetail is a message with both parties expanded to their profiles.
type MessageDetail struct {
	Message
	FromUser Profile
	ToUser   Profile
}
