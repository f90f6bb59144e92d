package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session identifies an authenticated principal. It is derived from a
// verified token and never stored server-side.
type Session struct {
	Subject   string
	Email     string
	TokenID   string
	ExpiresAt time.Time
	Claims    map[string]string
}

func (s Session) Claim(key string) string {
	return s.Claims[key]
}

type Claims struct {
	Email string            `json:"email,omitempty"`
	Extra map[string]string `json:"claims,omitempty"`
	jwt.RegisteredClaims
}

type TokenConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

func DefaultTokenConfig(secret string) TokenConfig {
	return TokenConfig{
		Secret: secret,
		Expiry: 7 * 24 * time.Hour,
		Issuer: "client-portal",
	}
}

func CreateToken(userID, email string, extra map[string]string, cfg TokenConfig) (string, Session, error) {
	if cfg.Secret == "" {
		return "", Session{}, errors.New("missing secret")
	}
	if userID == "" {
		return "", Session{}, errors.New("missing userID")
	}
	if cfg.Expiry <= 0 {
		return "", Session{}, errors.New("invalid expiry")
	}

	jti, err := randomHex(16)
	if err != nil {
		return "", Session{}, err
	}

	now := time.Now()
	expires := now.Add(cfg.Expiry)
	claims := Claims{
		Email: email,
		Extra: extra,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        jti,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", Session{}, err
	}
	return signed, sessionFromClaims(&claims), nil
}

func VerifyToken(tokenString string, cfg TokenConfig) (Session, error) {
	if cfg.Secret == "" {
		return Session{}, errors.New("missing secret")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return Session{}, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Session{}, jwt.ErrSignatureInvalid
	}
	return sessionFromClaims(claims), nil
}

func sessionFromClaims(c *Claims) Session {
	s := Session{
		Subject: c.Subject,
		Email:   c.Email,
		TokenID: c.ID,
		Claims:  c.Extra,
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
