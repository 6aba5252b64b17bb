package identity

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

var (
	ErrMissingIdentity = errors.New("missing caller identity")
	ErrInvalidToken    = errors.New("invalid token")
	ErrExpiredToken    = errors.New("token has expired")
)

// Config holds token settings.
type Config struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
	// DevMode accepts X-User-ID / user_id as the identity when no token is sent.
	DevMode bool
}

// Claims are the token claims; the subject is the participant id.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Provider resolves HTTP callers to participant ids.
type Provider struct {
	config Config
	clock  clockwork.Clock
}

// NewProvider creates a provider.
func NewProvider(config Config, clock clockwork.Clock) *Provider {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Provider{config: config, clock: clock}
}

// Issue signs a token for participantID.
func (p *Provider) Issue(participantID, name string) (string, error) {
	if p.config.Secret == "" {
		return "", ErrInvalidToken
	}
	now := p.clock.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.config.Issuer,
			Subject:   participantID,
			ExpiresAt: jwt.NewNumericDate(now.Add(p.config.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(p.config.Secret))
}

// Parse validates a token and returns its subject.
// Without a secret every token is rejected.
func (p *Provider) Parse(tokenString string) (string, error) {
	if p.config.Secret == "" {
		return "", ErrInvalidToken
	}
	opts := []jwt.ParserOption{jwt.WithTimeFunc(p.clock.Now)}
	if p.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(p.config.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Resolve identifies the caller from a bearer token, a token query parameter
// (browsers cannot set headers on WebSocket upgrades) or, in dev mode, the
// X-User-ID header or user_id query parameter.
func (p *Provider) Resolve(r *http.Request) (string, error) {
	if token := bearerToken(r); token != "" {
		return p.Parse(token)
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return p.Parse(token)
	}
	if p.config.DevMode {
		if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
			return id, nil
		}
		if id := strings.TrimSpace(r.URL.Query().Get("user_id")); id != "" {
			return id, nil
		}
	}
	return "", ErrMissingIdentity
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}
