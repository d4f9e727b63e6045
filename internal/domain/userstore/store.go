// Package userstore defines persistence contracts for users and auth tokens.
package userstore

import (
	"context"
	"errors"
	"time"
)

// ErrEmailTaken is returned by CreateUser when the email is already registered.
var ErrEmailTaken = errors.New("user store: email already registered")

// User is a registered account. Passwords are stored as bcrypt hashes only.
type User struct {
	ID              int64
	Email           string
	DisplayName     string
	HashedPassword  string
	IsEmailVerified bool
	CreatedAt       time.Time
}

// Token purposes.
const (
	PurposeSession     = "session"
	PurposeEmailVerify = "email_verify"
)

// Token is a hashed opaque credential with an expiry. The raw value is never
// persisted.
type Token struct {
	ID        int64
	UserID    int64
	Purpose   string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Store abstracts user and token persistence.
type Store interface {
	CreateUser(ctx context.Context, email, hashedPassword string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, bool, error)
	GetUserByID(ctx context.Context, id int64) (User, bool, error)

	CreateToken(ctx context.Context, userID int64, purpose, tokenHash string, expiresAt time.Time) (Token, error)
	// FindActiveToken resolves an unexpired, unused token by purpose and hash.
	FindActiveToken(ctx context.Context, purpose, tokenHash string) (Token, bool, error)
}
