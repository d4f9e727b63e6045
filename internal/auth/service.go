// Package auth implements account registration, login, and bearer-token
// authentication.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/MarchenkoRuslan/faberge-egg/errs"
	"github.com/MarchenkoRuslan/faberge-egg/internal/domain/userstore"
	"github.com/MarchenkoRuslan/faberge-egg/internal/mail"
	"github.com/MarchenkoRuslan/faberge-egg/internal/observability"
)

const (
	minPasswordLength = 8
	verifyTokenTTL    = 24 * time.Hour
)

// Service issues and validates account credentials.
type Service struct {
	users        userstore.Store
	mailer       mail.Mailer
	tokenTTL     time.Duration
	loginLimiter *rate.Limiter
	baseURL      string
	logger       observability.Logger
}

// New constructs the auth service. loginRate/loginBurst throttle login
// attempts process-wide; a zero rate disables throttling.
func New(users userstore.Store, mailer mail.Mailer, tokenTTL time.Duration, loginRate float64, loginBurst int, baseURL string, logger observability.Logger) *Service {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	if logger == nil {
		logger = observability.Log()
	}
	var limiter *rate.Limiter
	if loginRate > 0 {
		if loginBurst < 1 {
			loginBurst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(loginRate), loginBurst)
	}
	if mailer == nil {
		mailer = mail.NewLogMailer(logger)
	}
	return &Service{
		users:        users,
		mailer:       mailer,
		tokenTTL:     tokenTTL,
		loginLimiter: limiter,
		baseURL:      strings.TrimRight(baseURL, "/"),
		logger:       logger,
	}
}

// Register creates an account and sends the verification mail. Mail failures
// are logged, not surfaced: the account is already durable.
func (s *Service) Register(ctx context.Context, email, password string) (userstore.User, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(normalized, "@") || len(normalized) < 3 {
		return userstore.User{}, errs.New("auth", errs.CodeInvalid, errs.WithMessage("valid email required"))
	}
	if len(password) < minPasswordLength {
		return userstore.User{}, errs.New("auth", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("password must be at least %d characters", minPasswordLength)))
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return userstore.User{}, err
	}
	user, err := s.users.CreateUser(ctx, normalized, hashed)
	if errors.Is(err, userstore.ErrEmailTaken) {
		return userstore.User{}, errs.New("auth", errs.CodeConflict, errs.WithMessage("email already registered"))
	}
	if err != nil {
		return userstore.User{}, fmt.Errorf("auth: create user: %w", err)
	}

	s.sendVerification(ctx, user)
	return user, nil
}

func (s *Service) sendVerification(ctx context.Context, user userstore.User) {
	raw := newOpaqueToken()
	if _, err := s.users.CreateToken(ctx, user.ID, userstore.PurposeEmailVerify, hashToken(raw), time.Now().Add(verifyTokenTTL)); err != nil {
		s.logger.Error("create verification token",
			observability.F("user_id", user.ID), observability.F("error", err))
		return
	}
	msg := mail.Message{
		To:      user.Email,
		Subject: "Verify your email",
		Body:    fmt.Sprintf("Confirm your account: %s/auth/verify?token=%s", s.baseURL, raw),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Error("send verification mail",
			observability.F("user_id", user.ID), observability.F("error", err))
	}
}

// Login checks credentials and issues an opaque session token.
func (s *Service) Login(ctx context.Context, email, password string) (string, userstore.User, error) {
	if s.loginLimiter != nil && !s.loginLimiter.Allow() {
		return "", userstore.User{}, errs.New("auth", errs.CodeUnavailable,
			errs.WithHTTP(http.StatusTooManyRequests), errs.WithMessage("too many login attempts"))
	}

	normalized := strings.ToLower(strings.TrimSpace(email))
	user, ok, err := s.users.GetUserByEmail(ctx, normalized)
	if err != nil {
		return "", userstore.User{}, fmt.Errorf("auth: load user: %w", err)
	}
	// Password check runs for unknown accounts too, keeping the failure paths
	// close in timing.
	hashed := user.HashedPassword
	if !ok {
		hashed = "$2a$10$invalidinvalidinvalidinvalidinvalidinvalid1234567890ab"
	}
	if !CheckPassword(hashed, password) || !ok {
		return "", userstore.User{}, errs.New("auth", errs.CodeAuth, errs.WithMessage("invalid email or password"))
	}

	raw := newOpaqueToken()
	if _, err := s.users.CreateToken(ctx, user.ID, userstore.PurposeSession, hashToken(raw), time.Now().Add(s.tokenTTL)); err != nil {
		return "", userstore.User{}, fmt.Errorf("auth: create session token: %w", err)
	}
	return raw, user, nil
}

// Authenticate resolves a bearer token to its account.
func (s *Service) Authenticate(ctx context.Context, rawToken string) (userstore.User, error) {
	trimmed := strings.TrimSpace(rawToken)
	if trimmed == "" {
		return userstore.User{}, errs.New("auth", errs.CodeAuth, errs.WithMessage("missing bearer token"))
	}
	token, ok, err := s.users.FindActiveToken(ctx, userstore.PurposeSession, hashToken(trimmed))
	if err != nil {
		return userstore.User{}, fmt.Errorf("auth: find token: %w", err)
	}
	if !ok {
		return userstore.User{}, errs.New("auth", errs.CodeAuth, errs.WithMessage("invalid or expired token"))
	}
	user, ok, err := s.users.GetUserByID(ctx, token.UserID)
	if err != nil {
		return userstore.User{}, fmt.Errorf("auth: load user %d: %w", token.UserID, err)
	}
	if !ok {
		return userstore.User{}, errs.New("auth", errs.CodeAuth, errs.WithMessage("account no longer exists"))
	}
	return user, nil
}
