package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	AuthenticatedUserContextKey = ContextKey("authenticatedUser")
)

// Authentication types accepted by AUTH_TYPE.
const (
	AuthJWT    = "jwt"
	AuthAPIKey = "apikey"
	AuthNone   = "none"
)

// APIKeyHeader carries the API key when AUTH_TYPE is apikey.
const APIKeyHeader = "X-API-Key"

// AuthenticatedUser holds information about the authenticated caller.
type AuthenticatedUser struct {
	ID     string
	Method string
}

// AuthConfig selects how requests are authenticated.
type AuthConfig struct {
	Type       string
	JWTSecret  string
	APIKeyHash string // bcrypt hash of the accepted key
}

var errUnauthorized = errors.New("unauthorized")

// UserFromContext returns the caller stored by AuthMiddleware.
func UserFromContext(ctx context.Context) (AuthenticatedUser, bool) {
	u, ok := ctx.Value(AuthenticatedUserContextKey).(AuthenticatedUser)
	return u, ok
}

// AuthMiddleware creates a middleware for authenticating requests.
func AuthMiddleware(cfg AuthConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	log := logger.With("component", "auth_middleware")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				user AuthenticatedUser
				err  error
			)
			switch cfg.Type {
			case AuthJWT:
				user, err = authenticateJWT(r, cfg.JWTSecret)
			case AuthAPIKey:
				user, err = authenticateAPIKey(r, cfg.APIKeyHash)
			default:
				user = AuthenticatedUser{ID: "anonymous", Method: AuthNone}
			}
			if err != nil {
				log.WarnContext(r.Context(), "Authentication failed", "method", cfg.Type, "path", r.URL.Path, "error", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
				return
			}
			ctx := context.WithValue(r.Context(), AuthenticatedUserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticateJWT(r *http.Request, secret string) (AuthenticatedUser, error) {
	authHeader := r.Header.Get("Authorization")
	scheme, tokenString, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
		return AuthenticatedUser{}, fmt.Errorf("%w: bearer token required", errUnauthorized)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return AuthenticatedUser{}, fmt.Errorf("%w: %v", errUnauthorized, err)
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return AuthenticatedUser{}, fmt.Errorf("%w: token has no subject", errUnauthorized)
	}
	return AuthenticatedUser{ID: sub, Method: AuthJWT}, nil
}

func authenticateAPIKey(r *http.Request, hash string) (AuthenticatedUser, error) {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		if scheme, rest, found := strings.Cut(r.Header.Get("Authorization"), " "); found && strings.EqualFold(scheme, "ApiKey") {
			key = rest
		}
	}
	if key == "" {
		return AuthenticatedUser{}, fmt.Errorf("%w: api key required", errUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		return AuthenticatedUser{}, fmt.Errorf("%w: api key mismatch", errUnauthorized)
	}
	return AuthenticatedUser{ID: "apikey", Method: AuthAPIKey}, nil
}
