package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/R3E-Network/savings_layer/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims accepted by the API. The subject is the caller
// identity passed to every ledger operation.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware validates HS256 bearer tokens.
type AuthMiddleware struct {
	secret    []byte
	issuer    string
	logger    *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates a new authentication middleware. An empty issuer
// accepts tokens from any issuer.
func NewAuthMiddleware(secret []byte, issuer string, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &AuthMiddleware{
		secret:    secret,
		issuer:    issuer,
		logger:    log,
		skipPaths: skip,
	}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.reject(w, r, errors.New("missing Authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.reject(w, r, errors.New("invalid Authorization header format"))
			return
		}

		claims, err := m.validateToken(parts[1])
		if err != nil {
			m.reject(w, r, err)
			return
		}

		ctx := WithCaller(r.Context(), claims.Subject)
		if claims.Role != "" {
			ctx = contextWithRole(ctx, claims.Role)
		}
		m.logger.WithField("caller", claims.Subject).WithField("trace_id", TraceIDFrom(ctx)).Debug("authentication successful")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	m.logger.WithError(err).WithField("path", r.URL.Path).WithField("method", r.Method).
		WithField("trace_id", TraceIDFrom(r.Context())).Warn("authentication failed")
	writeError(w, http.StatusUnauthorized, "Unauthenticated", err.Error())
}

// IssueToken signs an HS256 token for subject. It is used by the CLI and by
// tests.
func IssueToken(secret []byte, issuer, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
