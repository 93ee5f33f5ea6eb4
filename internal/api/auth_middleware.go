package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/btaap/library-service/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const principalContextKey contextKey = "principal"

var errMissingSubject = errors.New("user id not found in token")

// UserProvisioner makes sure an authenticated caller has a credit account row.
type UserProvisioner interface {
	EnsureUser(ctx context.Context, userID uuid.UUID, role domain.Role) error
}

// AuthConfig controls how bearer tokens are verified.
type AuthConfig struct {
	Secret      string
	Provisioner UserProvisioner
	Logger      *slog.Logger
}

// JWTAuthMiddleware verifies HS256 bearer tokens and injects the caller's Principal into context.
func JWTAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	return authMiddleware(cfg, true)
}

// OptionalAuthMiddleware attaches a Principal when a valid token is present and
// lets anonymous requests through. A malformed or invalid token is still rejected.
func OptionalAuthMiddleware(cfg AuthConfig) func(http.Handler) http.Handler {
	return authMiddleware(cfg, false)
}

func authMiddleware(cfg AuthConfig, required bool) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	secret := []byte(cfg.Secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if authHeader == "" {
				if !required {
					next.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Not authorized, no token")
				return
			}

			tokenString, ok := bearerToken(authHeader)
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid Authorization header format")
				return
			}

			principal, err := parsePrincipal(tokenString, secret)
			if err != nil {
				logger.Debug("rejected bearer token", "error", err, "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Not authorized, token failed")
				return
			}

			if cfg.Provisioner != nil {
				if err := cfg.Provisioner.EnsureUser(r.Context(), principal.ID, principal.Role); err != nil {
					logger.Error("failed to provision user", "error", err, "user_id", principal.ID)
					writeError(w, http.StatusInternalServerError, domain.KindInfraFailure.Code(), "Internal server error")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireRole only lets principals holding one of roles through.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Not authorized, no token")
				return
			}
			for _, role := range roles {
				if principal.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "FORBIDDEN", fmt.Sprintf("User role %s is not authorized to access this route", principal.Role))
		})
	}
}

// WithPrincipal returns ctx carrying principal.
func WithPrincipal(ctx context.Context, principal domain.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// PrincipalFromContext retrieves the authenticated caller.
// Handlers should use this function to get the authenticated user's identity.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(domain.Principal)
	return principal, ok
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

func parsePrincipal(tokenString string, secret []byte) (domain.Principal, error) {
	if len(secret) == 0 {
		return domain.Principal{}, errors.New("jwt secret not configured")
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Principal{}, err
	}
	if !token.Valid {
		return domain.Principal{}, errors.New("invalid token")
	}

	rawID, _ := claims["sub"].(string)
	if rawID == "" {
		rawID, _ = claims["id"].(string)
	}
	if rawID == "" {
		return domain.Principal{}, errMissingSubject
	}
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("invalid user id %q: %w", rawID, err)
	}

	role := domain.RoleStudent
	if rawRole, ok := claims["role"].(string); ok && rawRole != "" {
		role = domain.Role(strings.ToLower(rawRole))
		if !role.Valid() {
			return domain.Principal{}, fmt.Errorf("unknown role %q", rawRole)
		}
	}
	return domain.Principal{ID: userID, Role: role}, nil
}
