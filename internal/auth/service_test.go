package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MarchenkoRuslan/faberge-egg/errs"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/userstore"
)

type fakeUsers struct {
	users  map[string]userstore.User
	tokens map[string]userstore.Token
	nextID int64
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[string]userstore.User{}, tokens: map[string]userstore.Token{}}
}

func (f *fakeUsers) CreateUser(_ context.Context, email, hashedPassword string) (userstore.User, error) {
	if _, exists := f.users[email]; exists {
		return userstore.User{}, userstore.ErrEmailTaken
	}
	f.nextID++
	user := userstore.User{ID: f.nextID, Email: email, HashedPassword: hashedPassword, CreatedAt: time.Now()}
	f.users[email] = user
	return user, nil
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (userstore.User, bool, error) {
	user, ok := f.users[email]
	return user, ok, nil
}

func (f *fakeUsers) GetUserByID(_ context.Context, id int64) (userstore.User, bool, error) {
	for _, user := range f.users {
		if user.ID == id {
			return user, true, nil
		}
	}
	return userstore.User{}, false, nil
}

func (f *fakeUsers) CreateToken(_ context.Context, userID int64, purpose, tokenHash string, expiresAt time.Time) (userstore.Token, error) {
	token := userstore.Token{UserID: userID, Purpose: purpose, TokenHash: tokenHash, ExpiresAt: expiresAt}
	f.tokens[purpose+":"+tokenHash] = token
	return token, nil
}

func (f *fakeUsers) FindActiveToken(_ context.Context, purpose, tokenHash string) (userstore.Token, bool, error) {
	token, ok := f.tokens[purpose+":"+tokenHash]
	if !ok || time.Now().After(token.ExpiresAt) {
		return userstore.Token{}, false, nil
	}
	return token, true, nil
}

func newService(users userstore.Store) *Service {
	return New(users, nil, time.Hour, 0, 0, "http://localhost:8000", nil)
}

func TestRegisterLoginAuthenticate(t *testing.T) {
	users := newFakeUsers()
	svc := newService(users)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Buyer@Example.COM", "correct horse battery")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "buyer@example.com" {
		t.Fatalf("email must be normalized, got %q", user.Email)
	}
	if strings.Contains(users.users[user.Email].HashedPassword, "correct horse") {
		t.Fatal("password stored in plaintext")
	}

	token, logged, err := svc.Login(ctx, "buyer@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if logged.ID != user.ID || token == "" {
		t.Fatalf("unexpected login result token=%q user=%+v", token, logged)
	}

	resolved, err := svc.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if resolved.ID != user.ID {
		t.Fatalf("token resolved to wrong account: %+v", resolved)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newService(newFakeUsers())
	ctx := context.Background()

	var envelope *errs.E
	if _, err := svc.Register(ctx, "not-an-email", "long enough pass"); !errors.As(err, &envelope) || envelope.Code != errs.CodeInvalid {
		t.Fatalf("expected invalid email rejection, got %v", err)
	}
	if _, err := svc.Register(ctx, "a@b.test", "short"); !errors.As(err, &envelope) || envelope.Code != errs.CodeInvalid {
		t.Fatalf("expected short password rejection, got %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newService(newFakeUsers())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "a@b.test", "password123"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := svc.Register(ctx, "a@b.test", "password123")
	var envelope *errs.E
	if !errors.As(err, &envelope) || envelope.Code != errs.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc := newService(newFakeUsers())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "a@b.test", "password123"); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, _, err := svc.Login(ctx, "a@b.test", "wrong password")
	var envelope *errs.E
	if !errors.As(err, &envelope) || envelope.Code != errs.CodeAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "ghost@b.test", "whatever123"); !errors.As(err, &envelope) || envelope.Code != errs.CodeAuth {
		t.Fatalf("unknown accounts must fail the same way, got %v", err)
	}
}

func TestLoginThrottled(t *testing.T) {
	users := newFakeUsers()
	svc := New(users, nil, time.Hour, 1, 1, "http://localhost:8000", nil)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "a@b.test", "password123"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := svc.Login(ctx, "a@b.test", "password123"); err != nil {
		t.Fatalf("first login should pass: %v", err)
	}
	_, _, err := svc.Login(ctx, "a@b.test", "password123")
	var envelope *errs.E
	if !errors.As(err, &envelope) || envelope.Status() != 429 {
		t.Fatalf("expected 429 throttle, got %v", err)
	}
}

func TestAuthenticateRejectsUnknownToken(t *testing.T) {
	svc := newService(newFakeUsers())

	var envelope *errs.E
	if _, err := svc.Authenticate(context.Background(), "bogus"); !errors.As(err, &envelope) || envelope.Code != errs.CodeAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "  "); !errors.As(err, &envelope) || envelope.Code != errs.CodeAuth {
		t.Fatalf("expected auth error for blank token, got %v", err)
	}
}

func TestOpaqueTokensAreUniqueAndHashed(t *testing.T) {
	a, b := newOpaqueToken(), newOpaqueToken()
	if a == b {
		t.Fatal("tokens must be unique")
	}
	if hashToken(a) == a {
		t.Fatal("hash must differ from raw token")
	}
	if hashToken(a) != hashToken(a) {
		t.Fatal("hash must be deterministic")
	}
}
