package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"client-portal/internal/model"
	"github.com/google/uuid"
)

func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (model.User, error) {
	user := model.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
		CreatedAt:    s.clock.next(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Email, user.PasswordHash, formatTime(user.CreatedAt),
	)
	if isUniqueViolation(err) {
		return model.User{}, ErrDuplicate
	}
	if err != nil {
		return model.User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	return s.getUser(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	return s.getUser(ctx, "id = ?", id)
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (model.User, error) {
	var (
		user    model.User
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE `+where, arg,
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &created)
	if err == sql.ErrNoRows {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	if user.CreatedAt, err = parseTime(created); err != nil {
		return model.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *Store) SaveAuthCode(ctx context.Context, code model.AuthCode) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_codes (code, user_id, expires_at) VALUES (?, ?, ?)`,
		code.Code, code.UserID, formatTime(code.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save auth code: %w", err)
	}
	return nil
}

// ConsumeAuthCode removes the code and returns it. A code can be consumed
// once; expired codes are removed and reported as ErrExpired.
func (s *Store) ConsumeAuthCode(ctx context.Context, code string, now time.Time) (model.AuthCode, error) {
	var (
		result  = model.AuthCode{Code: code}
		expires string
	)
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM auth_codes WHERE code = ? RETURNING user_id, expires_at`, code,
	).Scan(&result.UserID, &expires)
	if err == sql.ErrNoRows {
		return model.AuthCode{}, ErrNotFound
	}
	if err != nil {
		return model.AuthCode{}, fmt.Errorf("failed to consume auth code: %w", err)
	}
	if result.ExpiresAt, err = parseTime(expires); err != nil {
		return model.AuthCode{}, fmt.Errorf("failed to consume auth code: %w", err)
	}
	if !now.Before(result.ExpiresAt) {
		return model.AuthCode{}, ErrExpired
	}
	return result, nil
}

func (s *Store) RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO revoked_tokens (token_id, expires_at) VALUES (?, ?)`,
		tokenID, formatTime(expiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

func (s *Store) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM revoked_tokens WHERE token_id = ?`, tokenID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	return true, nil
}

// PurgeExpired drops expired codes and revocations whose tokens have expired
// on their own.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	cutoff := formatTime(now)
	var total int64
	for _, query := range []string{
		`DELETE FROM auth_codes WHERE expires_at <= ?`,
		`DELETE FROM revoked_tokens WHERE expires_at <= ?`,
	} {
		res, err := s.db.ExecContext(ctx, query, cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to purge: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
