package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const OperatorContextKey = ContextKey("operator")

// Operator is the authenticated caller of an operator route.
type Operator struct {
	Subject string
	IsAdmin bool
}

// OperatorFromContext returns the operator set by OperatorAuth.
func OperatorFromContext(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(OperatorContextKey).(Operator)
	return op, ok
}

// OperatorAuth validates an HS256 bearer token signed with secret. Tokens must carry
// a subject and the "adm" claim set to true.
func OperatorAuth(secret string, logger *slog.Logger) func(next http.Handler) http.Handler {
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.WarnContext(r.Context(), "Authorization header missing")
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}
			scheme, tokenString, found := strings.Cut(authHeader, " ")
			if !found || scheme != "Bearer" {
				logger.WarnContext(r.Context(), "Unsupported Authorization scheme", "scheme", scheme)
				http.Error(w, "Unsupported Authorization scheme", http.StatusUnauthorized)
				return
			}

			claims := jwt.MapClaims{}
			_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
				return key, nil
			})
			if err != nil {
				logger.WarnContext(r.Context(), "Token validation failed", "error", err)
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			subject, _ := claims.GetSubject()
			isAdmin, _ := claims["adm"].(bool)
			if subject == "" || !isAdmin {
				logger.WarnContext(r.Context(), "Token lacks operator privileges", "subject", subject)
				http.Error(w, "Forbidden: operator privileges required", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), OperatorContextKey, Operator{Subject: subject, IsAdmin: isAdmin})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IssueOperatorToken signs a token accepted by OperatorAuth. Used by paymentctl and tests.
func IssueOperatorToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("operator secret is empty")
	}
	claims := jwt.MapClaims{
		"sub": subject,
		"adm": true,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
