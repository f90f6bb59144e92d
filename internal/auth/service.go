package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"client-portal/internal/model"
	"client-portal/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("Invalid login credentials")
	ErrInvalidToken       = errors.New("Invalid authentication token")
	ErrInvalidCode        = errors.New("Invalid or expired authorization code")
	ErrWeakPassword       = errors.New("Password must be at least 8 characters")
	ErrInvalidEmail       = errors.New("Invalid email address")
	ErrEmailTaken         = errors.New("User already registered")
)

// Users is the slice of the store the auth service needs.
type Users interface {
	CreateUser(ctx context.Context, email, passwordHash string) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	GetUser(ctx context.Context, id string) (model.User, error)
	SaveAuthCode(ctx context.Context, code model.AuthCode) error
	ConsumeAuthCode(ctx context.Context, code string, now time.Time) (model.AuthCode, error)
	RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// CodeSender delivers one-time sign-in codes out of band.
type CodeSender interface {
	SendCode(ctx context.Context, email, code string) error
}

// LogSender writes codes to the log. Suitable for development only.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) SendCode(ctx context.Context, email, code string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "sign-in code issued", "email", email, "code", code)
	return nil
}

// Issued is a freshly minted session token.
type Issued struct {
	Token   string
	Session Session
}

type Options struct {
	Sender     CodeSender
	CodeTTL    time.Duration
	BcryptCost int
	Logger     *slog.Logger
	Now        func() time.Time
}

// Service owns session creation, refresh and destruction. One instance is
// built at startup and handed to every component that needs sessions.
type Service struct {
	users   Users
	tokens  TokenConfig
	sender  CodeSender
	codeTTL time.Duration
	cost    int
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(users Users, tokens TokenConfig, opts Options) *Service {
	s := &Service{
		users:   users,
		tokens:  tokens,
		sender:  opts.Sender,
		codeTTL: opts.CodeTTL,
		cost:    opts.BcryptCost,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.sender == nil {
		s.sender = LogSender{Logger: s.logger}
	}
	if s.codeTTL <= 0 {
		s.codeTTL = 10 * time.Minute
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) TokenConfig() TokenConfig { return s.tokens }

func (s *Service) SignUp(ctx context.Context, email, password string) (model.User, Issued, error) {
	if _, err := mail.ParseAddress(email); err != nil {
		return model.User{}, Issued{}, ErrInvalidEmail
	}
	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return model.User{}, Issued{}, err
	}
	user, err := s.users.CreateUser(ctx, email, hash)
	if errors.Is(err, store.ErrDuplicate) {
		return model.User{}, Issued{}, ErrEmailTaken
	}
	if err != nil {
		return model.User{}, Issued{}, err
	}
	issued, err := s.issue(user)
	return user, issued, err
}

func (s *Service) SignIn(ctx context.Context, email, password string) (model.User, Issued, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return model.User{}, Issued{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.User{}, Issued{}, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return model.User{}, Issued{}, ErrInvalidCredentials
	}
	issued, err := s.issue(user)
	return user, issued, err
}

// RequestCode issues a one-time authorization code for a known user. Unknown
// addresses are accepted silently.
func (s *Service) RequestCode(ctx context.Context, email string) error {
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	code, err := randomHex(24)
	if err != nil {
		return err
	}
	if err := s.users.SaveAuthCode(ctx, model.AuthCode{
		Code:      code,
		UserID:    user.ID,
		ExpiresAt: s.now().Add(s.codeTTL),
	}); err != nil {
		return err
	}
	return s.sender.SendCode(ctx, user.Email, code)
}

// Exchange trades an authorization code for a session.
func (s *Service) Exchange(ctx context.Context, code string) (model.User, Issued, error) {
	if code == "" {
		return model.User{}, Issued{}, ErrInvalidCode
	}
	ac, err := s.users.ConsumeAuthCode(ctx, code, s.now())
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrExpired) {
		return model.User{}, Issued{}, ErrInvalidCode
	}
	if err != nil {
		return model.User{}, Issued{}, err
	}
	user, err := s.users.GetUser(ctx, ac.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return model.User{}, Issued{}, ErrInvalidCode
	}
	if err != nil {
		return model.User{}, Issued{}, err
	}
	issued, err := s.issue(user)
	return user, issued, err
}

// Resolve verifies a token and rejects revoked ones.
func (s *Service) Resolve(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrInvalidToken
	}
	sess, err := VerifyToken(token, s.tokens)
	if err != nil {
		return Session{}, ErrInvalidToken
	}
	revoked, err := s.users.IsTokenRevoked(ctx, sess.TokenID)
	if err != nil {
		return Session{}, fmt.Errorf("resolve session: %w", err)
	}
	if revoked {
		return Session{}, ErrInvalidToken
	}
	return sess, nil
}

// Refresh replaces the session's token with a new one and revokes the old.
func (s *Service) Refresh(ctx context.Context, sess Session) (Issued, error) {
	token, next, err := CreateToken(sess.Subject, sess.Email, sess.Claims, s.tokens)
	if err != nil {
		return Issued{}, err
	}
	if err := s.users.RevokeToken(ctx, sess.TokenID, sess.ExpiresAt); err != nil {
		return Issued{}, err
	}
	return Issued{Token: token, Session: next}, nil
}

func (s *Service) SignOut(ctx context.Context, sess Session) error {
	return s.users.RevokeToken(ctx, sess.TokenID, sess.ExpiresAt)
}

func (s *Service) User(ctx context.Context, sess Session) (model.User, error) {
	return s.users.GetUser(ctx, sess.Subject)
}

// Run purges expired codes and revocations every interval until ctx ends.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.users.PurgeExpired(ctx, s.now())
			if err != nil {
				s.logger.Warn("auth janitor: purge failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("auth janitor: purged", "rows", n)
			}
		}
	}
}

func (s *Service) issue(user model.User) (Issued, error) {
	token, sess, err := CreateToken(user.ID, user.Email, nil, s.tokens)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: token, Session: sess}, nil
}
