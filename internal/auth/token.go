package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"pawchat/internal/transport/wsconn"
	pawchat_errors "pawchat/pkg/errors"
)

const DefaultTokenTTL = 15 * time.Minute

type AccessClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// UserID is the identity carried by the token.
func (c AccessClaims) UserID() string {
	return c.Subject
}

// Issuer mints and verifies short-lived HS256 access tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Mint issues a token for userID and returns it with its expiry.
func (i *Issuer) Mint(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, pawchat_errors.ErrInvalidInput
	}
	now := i.now()
	expiresAt := now.Add(i.ttl)

	claims := AccessClaims{
		SessionID: uuid.New().String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse verifies tokenString. Every failure is ErrUnauthorized.
func (i *Issuer) Parse(tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, pawchat_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, pawchat_errors.ErrUnauthorized
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return AccessClaims{}, pawchat_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return AccessClaims{}, pawchat_errors.ErrUnauthorized
	}
	return *claims, nil
}

// TokenSource returns a TokenFunc minting a fresh token for userID on every call, so
// a reconnect never presents an expired token.
func (i *Issuer) TokenSource(userID string) wsconn.TokenFunc {
	return func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		token, _, err := i.Mint(userID)
		return token, err
	}
}

// StaticToken returns a TokenFunc that always yields token.
func StaticToken(token string) wsconn.TokenFunc {
	return func(context.Context) (string, error) {
		if token == "" {
			return "", errors.New("empty access token")
		}
		return token, nil
	}
}

type ctxKey string

var userIDKey ctxKey = "user_id"

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}
