// Package auth authenticates vault callers.
//
// Users and their bcrypt password hashes come from configuration. A
// successful login yields an HS256 JWT carrying the user's roles; every
// /api request must present one as a Bearer token. Authorization beyond
// "authenticated" is not enforced.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/koustreak/mediavault/internal/errs"
	"golang.org/x/crypto/bcrypt"
)

const minSecretLength = 16

// User is one configured account.
type User struct {
	Username     string   `yaml:"username"`
	PasswordHash string   `yaml:"password_hash"`
	Roles        []string `yaml:"roles"`
}

// Config holds token and user settings.
type Config struct {
	// Secret signs tokens (HS256).
	Secret string `yaml:"secret"`

	// Issuer is written to and required in the iss claim.
	Issuer string `yaml:"issuer"`

	// TTL is the token lifetime.
	TTL time.Duration `yaml:"ttl"`

	Users []User `yaml:"users"`
}

// DefaultConfig returns settings without a secret or users; both must be
// supplied before the gate can be built.
func DefaultConfig() *Config {
	return &Config{Issuer: "mediavault", TTL: time.Hour}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if len(c.Secret) < minSecretLength {
		return fmt.Errorf("auth secret must be at least %d characters", minSecretLength)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("auth ttl must be positive")
	}
	seen := make(map[string]bool, len(c.Users))
	for _, u := range c.Users {
		name, err := NormalizeUsername(u.Username)
		if err != nil {
			return fmt.Errorf("user %q: %w", u.Username, err)
		}
		if seen[name] {
			return fmt.Errorf("user %q configured twice", name)
		}
		seen[name] = true
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return fmt.Errorf("user %q: password_hash is not a bcrypt hash", name)
		}
	}
	return nil
}

// Principal is an authenticated caller.
type Principal struct {
	Username string
	Roles    []string
}

// HasRole reports whether p carries role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Token is a signed credential and its expiry.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Gate logs users in and verifies their tokens.
type Gate struct {
	secret []byte
	issuer string
	ttl    time.Duration
	users  map[string]User
	now    func() time.Time

	// dummyHash is compared against when the user is unknown so that
	// both failure paths cost one bcrypt comparison.
	dummyHash []byte
}

// New validates cfg and builds a Gate.
func New(cfg *Config) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid auth config", err)
	}
	users := make(map[string]User, len(cfg.Users))
	for _, u := range cfg.Users {
		name, _ := NormalizeUsername(u.Username)
		u.Username = name
		users[name] = u
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.MinCost)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindUnknown, "prepare password check", err)
	}
	return &Gate{
		secret:    []byte(cfg.Secret),
		issuer:    cfg.Issuer,
		ttl:       cfg.TTL,
		users:     users,
		now:       time.Now,
		dummyHash: dummy,
	}, nil
}

// Login checks username and password and issues a token.
func (g *Gate) Login(username, password string) (Token, error) {
	name, err := NormalizeUsername(username)
	user, ok := g.users[name]
	if err != nil || !ok {
		_ = bcrypt.CompareHashAndPassword(g.dummyHash, []byte(password))
		return Token{}, errs.New(errs.ErrKindUnauthenticated, "invalid username or password")
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return Token{}, errs.New(errs.ErrKindUnauthenticated, "invalid username or password")
	}
	return g.Issue(user.Username)
}

// Issue signs a token for a configured user without checking a password.
func (g *Gate) Issue(username string) (Token, error) {
	name, err := NormalizeUsername(username)
	if err != nil {
		return Token{}, errs.Wrap(errs.ErrKindInvalidInput, "invalid username", err)
	}
	user, ok := g.users[name]
	if !ok {
		return Token{}, errs.New(errs.ErrKindNotFound, fmt.Sprintf("unknown user %q", name))
	}

	now := g.now().UTC()
	exp := now.Add(g.ttl)
	cl := claims{
		Roles: user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.issuer,
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(g.secret)
	if err != nil {
		return Token{}, errs.Wrap(errs.ErrKindUnknown, "sign token", err)
	}
	return Token{Value: signed, ExpiresAt: exp}, nil
}

// Verify validates signature, algorithm, issuer and expiry, and returns the
// token's principal.
func (g *Gate) Verify(raw string) (Principal, error) {
	if strings.TrimSpace(raw) == "" {
		return Principal{}, errs.New(errs.ErrKindUnauthenticated, "missing bearer token")
	}
	var cl claims
	_, err := jwt.ParseWithClaims(raw, &cl, func(*jwt.Token) (any, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(g.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		msg := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "token expired"
		}
		return Principal{}, errs.Wrap(errs.ErrKindUnauthenticated, msg, err)
	}
	if cl.Subject == "" {
		return Principal{}, errs.New(errs.ErrKindUnauthenticated, "token has no subject")
	}
	return Principal{Username: cl.Subject, Roles: cl.Roles}, nil
}

// TokenFromRequest extracts a Bearer token from the Authorization header.
func TokenFromRequest(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
