package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type contextKey int

const (
	callerKey contextKey = iota
	requestIDKey
)

// Authenticator issues and verifies HS256 tokens whose subject names the
// account a request acts for.
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator creates an authenticator. A zero ttl issues tokens that
// never expire.
func NewAuthenticator(secret []byte, issuer string, ttl time.Duration) *Authenticator {
	return &Authenticator{
		secret: secret,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// IssueToken signs a token for account.
func (a *Authenticator) IssueToken(account string) (string, error) {
	if account == "" {
		return "", errors.New("account is required")
	}

	now := a.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   account,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
	if a.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.ttl))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify checks a token and returns its subject.
func (a *Authenticator) Verify(tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// requireAccount rejects requests without a valid bearer token and stores
// the token subject as the caller.
func (s *Server) requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			s.sendError(w, r, http.StatusUnauthorized, ErrMissingToken)
			return
		}
		account, err := s.auth.Verify(token)
		if err != nil {
			s.sendError(w, r, http.StatusUnauthorized, err)
			return
		}
		ctx := context.WithValue(r.Context(), callerKey, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func callerFrom(ctx context.Context) string {
	account, _ := ctx.Value(callerKey).(string)
	return account
}
