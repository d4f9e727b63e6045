package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/userstore"
)

// UserStore persists user accounts and their opaque auth tokens.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore constructs a UserStore backed by the provided pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const uniqueViolationCode = "23505"

const (
	userInsertSQL = `
INSERT INTO users (
    email,
    display_name,
    hashed_password,
    is_email_verified,
    created_at
)
VALUES (@email, '', @hashed_password, FALSE, NOW())
RETURNING id, email, display_name, hashed_password, is_email_verified, created_at;
`

	userSelectBase = `
SELECT
    id,
    email,
    display_name,
    hashed_password,
    is_email_verified,
    created_at
FROM users
`

	userByEmailSQL = userSelectBase + `
WHERE email = @email;
`

	userByIDSQL = userSelectBase + `
WHERE id = @id;
`

	tokenInsertSQL = `
INSERT INTO auth_tokens (
    user_id,
    purpose,
    token_hash,
    expires_at,
    created_at
)
VALUES (@user_id, @purpose, @token_hash, @expires_at, NOW())
RETURNING id, user_id, purpose, token_hash, expires_at, used_at, created_at;
`

	tokenFindActiveSQL = `
SELECT
    id,
    user_id,
    purpose,
    token_hash,
    expires_at,
    used_at,
    created_at
FROM auth_tokens
WHERE purpose = @purpose
  AND token_hash = @token_hash
  AND used_at IS NULL
  AND expires_at > NOW();
`
)

func (s *UserStore) ensurePool() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("user store: nil pool")
	}
	return s.pool, nil
}

// CreateUser registers an account. Email uniqueness is enforced by the
// database; a duplicate maps to userstore.ErrEmailTaken.
func (s *UserStore) CreateUser(ctx context.Context, email, hashedPassword string) (userstore.User, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return userstore.User{}, err
	}
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return userstore.User{}, fmt.Errorf("user store: email required")
	}
	if strings.TrimSpace(hashedPassword) == "" {
		return userstore.User{}, fmt.Errorf("user store: hashed password required")
	}
	args := pgx.NamedArgs{"email": normalized, "hashed_password": hashedPassword}
	row := pool.QueryRow(ctx, userInsertSQL, args)
	user, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return userstore.User{}, userstore.ErrEmailTaken
		}
		return userstore.User{}, fmt.Errorf("user store: insert user: %w", err)
	}
	return user, nil
}

// GetUserByEmail resolves an account by normalized email.
func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (userstore.User, bool, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return userstore.User{}, false, err
	}
	normalized := strings.ToLower(strings.TrimSpace(email))
	row := pool.QueryRow(ctx, userByEmailSQL, pgx.NamedArgs{"email": normalized})
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return userstore.User{}, false, nil
	}
	if err != nil {
		return userstore.User{}, false, fmt.Errorf("user store: get user by email: %w", err)
	}
	return user, true, nil
}

// GetUserByID resolves an account by identifier.
func (s *UserStore) GetUserByID(ctx context.Context, id int64) (userstore.User, bool, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return userstore.User{}, false, err
	}
	row := pool.QueryRow(ctx, userByIDSQL, pgx.NamedArgs{"id": id})
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return userstore.User{}, false, nil
	}
	if err != nil {
		return userstore.User{}, false, fmt.Errorf("user store: get user by id: %w", err)
	}
	return user, true, nil
}

// CreateToken stores a hashed credential.
func (s *UserStore) CreateToken(ctx context.Context, userID int64, purpose, tokenHash string, expiresAt time.Time) (userstore.Token, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return userstore.Token{}, err
	}
	if strings.TrimSpace(purpose) == "" || strings.TrimSpace(tokenHash) == "" {
		return userstore.Token{}, fmt.Errorf("user store: token purpose and hash required")
	}
	args := pgx.NamedArgs{
		"user_id":    userID,
		"purpose":    purpose,
		"token_hash": tokenHash,
		"expires_at": expiresAt,
	}
	row := pool.QueryRow(ctx, tokenInsertSQL, args)
	token, err := scanToken(row)
	if err != nil {
		return userstore.Token{}, fmt.Errorf("user store: insert token: %w", err)
	}
	return token, nil
}

// FindActiveToken resolves an unexpired, unused token by purpose and hash.
func (s *UserStore) FindActiveToken(ctx context.Context, purpose, tokenHash string) (userstore.Token, bool, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return userstore.Token{}, false, err
	}
	args := pgx.NamedArgs{"purpose": purpose, "token_hash": tokenHash}
	row := pool.QueryRow(ctx, tokenFindActiveSQL, args)
	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return userstore.Token{}, false, nil
	}
	if err != nil {
		return userstore.Token{}, false, fmt.Errorf("user store: find token: %w", err)
	}
	return token, true, nil
}

func scanUser(row rowScanner) (userstore.User, error) {
	var user userstore.User
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.HashedPassword,
		&user.IsEmailVerified,
		&user.CreatedAt,
	); err != nil {
		return userstore.User{}, err
	}
	return user, nil
}

func scanToken(row rowScanner) (userstore.Token, error) {
	var token userstore.Token
	if err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.Purpose,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.UsedAt,
		&token.CreatedAt,
	); err != nil {
		return userstore.Token{}, err
	}
	return token, nil
}

var _ userstore.Store = (*UserStore)(nil)
