package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by an access token. The user ID is the subject.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenAuth resolves the current user from an HS256 access token. The token is
// re-read on every call so signing in or out takes effect without a restart.
type TokenAuth struct {
	secret    []byte
	tokenFile string
	tokenEnv  string
}

// NewTokenAuth reads the token from tokenFile, falling back to the tokenEnv
// environment variable. Either may be empty.
func NewTokenAuth(secret, tokenFile, tokenEnv string) *TokenAuth {
	return &TokenAuth{secret: []byte(secret), tokenFile: tokenFile, tokenEnv: tokenEnv}
}

func (a *TokenAuth) token() (string, error) {
	if a.tokenFile != "" {
		b, err := os.ReadFile(a.tokenFile)
		switch {
		case err == nil:
			if tok := strings.TrimSpace(string(b)); tok != "" {
				return tok, nil
			}
		case !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("store: read token: %w", err)
		}
	}
	if a.tokenEnv != "" {
		return strings.TrimSpace(os.Getenv(a.tokenEnv)), nil
	}
	return "", nil
}

func (a *TokenAuth) CurrentUser(ctx context.Context) (*User, error) {
	tok, err := a.token()
	if err != nil {
		return nil, err
	}
	if tok == "" {
		return nil, nil
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tok, claims, func(_ *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &User{ID: claims.Subject, Email: claims.Email}, nil
}

// IssueToken signs an access token for userID. Used by the token command and tests.
func IssueToken(secret, userID, email string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("store: user id required")
	}
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// SaveToken writes an access token where TokenAuth will find it.
func SaveToken(path, token string) error {
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("store: save token: %w", err)
	}
	return nil
}
