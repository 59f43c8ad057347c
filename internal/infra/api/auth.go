package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "audio-assistant"

// AuthManager mints and checks HS256 bearer tokens for /api/v1.
type AuthManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthManager(secret string, ttl time.Duration) (*AuthManager, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthManager{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Mint signs a token for subject.
func (a *AuthManager) Mint(subject string) (string, error) {
	if subject == "" {
		return "", errors.New("empty subject")
	}
	now := a.now()
	claims := Claims{
		Scope: "api",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *AuthManager) ParseFromRequest(r *http.Request) (*Claims, error) {
	// Authorization: Bearer <jwt>
	if hdr := r.Header.Get("Authorization"); len(hdr) > 7 && strings.EqualFold(hdr[:7], "bearer ") {
		return a.parse(strings.TrimSpace(hdr[7:]))
	}
	// Browsers cannot set headers on websocket handshakes.
	if tok := r.URL.Query().Get("access_token"); tok != "" {
		return a.parse(tok)
	}
	return nil, errors.New("missing token")
}

func (a *AuthManager) parse(tok string) (*Claims, error) {
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !tkn.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

type subjectKey struct{}

// SubjectFrom returns the authenticated subject, or "".
func SubjectFrom(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

// Auth rejects requests without a valid token. A nil manager disables it.
func Auth(a *AuthManager) Middleware {
	return func(next http.Handler) http.Handler {
		if a == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := a.ParseFromRequest(r)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), subjectKey{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
