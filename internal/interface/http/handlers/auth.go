// Package handlers contains HTTP middleware, authentication and health checks
// shared by the API server.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mentorlink/study-agent/internal/application/command"
	"github.com/mentorlink/study-agent/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

// ServiceActorID identifies callers authenticated with an API key.
const ServiceActorID = "service"

// APIKeyHeader carries service API keys.
const APIKeyHeader = "X-API-Key"

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// AuthConfig configures the Authenticator.
type AuthConfig struct {
	Secret   []byte
	Issuer   string
	TokenTTL time.Duration

	// APIKeyHashes are bcrypt hashes of accepted service keys.
	APIKeyHashes []string
}

// Claims is the bearer token payload. The subject is the actor id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies bearer tokens and service API keys.
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	keys   [][]byte
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 12 * time.Hour
	}
	keys := make([][]byte, 0, len(cfg.APIKeyHashes))
	for _, h := range cfg.APIKeyHashes {
		if h = strings.TrimSpace(h); h != "" {
			keys = append(keys, []byte(h))
		}
	}
	return &Authenticator{
		secret: cfg.Secret,
		issuer: cfg.Issuer,
		ttl:    cfg.TokenTTL,
		keys:   keys,
		now:    time.Now,
	}
}

// SetClock overrides the time source.
func (a *Authenticator) SetClock(now func() time.Time) {
	if now != nil {
		a.now = now
	}
}

// IssueToken signs an HS256 token for the actor.
func (a *Authenticator) IssueToken(actor command.Actor) (string, error) {
	if actor.ID == "" || !actor.Role.IsValid() {
		return "", fmt.Errorf("%w: actor id and role are required", shared.ErrInvalidInput)
	}
	now := a.now()
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ParseToken verifies a token and returns its actor.
func (a *Authenticator) ParseToken(raw string) (command.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return command.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	actor := command.Actor{ID: claims.Subject, Role: command.Role(claims.Role)}
	if actor.ID == "" || !actor.Role.IsValid() {
		return command.Actor{}, fmt.Errorf("%w: missing subject or role", ErrInvalidToken)
	}
	return actor, nil
}

// CheckAPIKey reports whether key matches one of the configured hashes.
func (a *Authenticator) CheckAPIKey(key string) bool {
	if key == "" {
		return false
	}
	for _, h := range a.keys {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			return true
		}
	}
	return false
}

// HashAPIKey returns the bcrypt hash to configure for a service key.
func HashAPIKey(key string) (string, error) {
	if len(key) < 16 {
		return "", fmt.Errorf("%w: api key must be at least 16 characters", shared.ErrInvalidInput)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Authenticate resolves the actor of a request. API keys authenticate as
// an admin service actor.
func (a *Authenticator) Authenticate(r *http.Request) (command.Actor, error) {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		if a.CheckAPIKey(key) {
			return command.Actor{ID: ServiceActorID, Role: command.RoleAdmin}, nil
		}
		return command.Actor{}, fmt.Errorf("%w: unknown api key", ErrInvalidToken)
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return command.Actor{}, ErrMissingCredentials
	}
	return a.ParseToken(strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")))
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTOR CONTEXT
// ══════════════════════════════════════════════════════════════════════════════

type actorKey struct{}

// WithActor returns a copy of ctx carrying the actor.
func WithActor(ctx context.Context, actor command.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the authenticated actor.
func ActorFrom(ctx context.Context) (command.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(command.Actor)
	return actor, ok
}

// Middleware rejects unauthenticated requests and stores the actor in the
// request context. onError writes the rejection.
func (a *Authenticator) Middleware(onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := a.Authenticate(r)
			if err != nil {
				onError(w, r, fmt.Errorf("%w: %v", shared.ErrUnauthorized, err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}
