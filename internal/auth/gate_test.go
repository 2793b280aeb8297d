package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/koustreak/mediavault/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func hash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func newGate(t *testing.T) *Gate {
	t.Helper()
	g, err := New(&Config{
		Secret: testSecret,
		Issuer: "mediavault",
		TTL:    time.Hour,
		Users: []User{
			{Username: "Omar", PasswordHash: hash(t, "correct horse"), Roles: []string{"USER"}},
		},
	})
	require.NoError(t, err)
	return g
}

func TestLoginAndVerify(t *testing.T) {
	g := newGate(t)

	tok, err := g.Login("omar", "correct horse")
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Value)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, time.Minute)

	p, err := g.Verify(tok.Value)
	require.NoError(t, err)
	assert.Equal(t, "omar", p.Username)
	assert.True(t, p.HasRole("USER"))
	assert.False(t, p.HasRole("ADMIN"))
}

func TestLogin_Rejects(t *testing.T) {
	g := newGate(t)

	for _, tc := range []struct{ user, pass string }{
		{"omar", "wrong password"},
		{"nobody", "correct horse"},
		{"", ""},
	} {
		_, err := g.Login(tc.user, tc.pass)
		require.Error(t, err)
		assert.True(t, errs.IsUnauthenticated(err), tc.user)
	}
}

func TestVerify_Rejects(t *testing.T) {
	g := newGate(t)
	tok, err := g.Issue("omar")
	require.NoError(t, err)

	other, err := New(&Config{Secret: "another-secret-of-32-characters!", Issuer: "mediavault", TTL: time.Hour})
	require.NoError(t, err)

	_, err = other.Verify(tok.Value)
	assert.True(t, errs.IsUnauthenticated(err), "wrong secret")

	_, err = g.Verify("")
	assert.True(t, errs.IsUnauthenticated(err), "empty")

	_, err = g.Verify("not.a.jwt")
	assert.True(t, errs.IsUnauthenticated(err), "garbage")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "omar",
		Issuer:    "mediavault",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = g.Verify(unsigned)
	assert.True(t, errs.IsUnauthenticated(err), "alg none")
}

func TestVerify_Expired(t *testing.T) {
	g := newGate(t)
	g.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, err := g.Issue("omar")
	require.NoError(t, err)

	g.now = time.Now
	_, err = g.Verify(tok.Value)
	require.Error(t, err)
	assert.True(t, errs.IsUnauthenticated(err))
	assert.Contains(t, err.Error(), "token expired")
}

func TestIssue_UnknownUser(t *testing.T) {
	_, err := newGate(t).Issue("ghost")
	assert.True(t, errs.IsNotFound(err))
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Secret: testSecret, TTL: time.Hour, Users: []User{{Username: "a", PasswordHash: hash(t, "password1")}}}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short secret", func(c *Config) { c.Secret = "short" }},
		{"zero ttl", func(c *Config) { c.TTL = 0 }},
		{"bad username", func(c *Config) { c.Users[0].Username = "Bad Name" }},
		{"plain password", func(c *Config) { c.Users[0].PasswordHash = "hunter2" }},
		{"duplicate user", func(c *Config) { c.Users = append(c.Users, User{Username: "A", PasswordHash: c.Users[0].PasswordHash}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/files/x", nil)
	assert.Empty(t, TokenFromRequest(r))

	r.Header.Set("Authorization", "bearer abc.def")
	assert.Equal(t, "abc.def", TokenFromRequest(r))

	r.Header.Set("Authorization", "Basic xyz")
	assert.Empty(t, TokenFromRequest(r))
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{Username: "omar"})
	p, ok := PrincipalFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "omar", p.Username)
}

func TestPasswords(t *testing.T) {
	_, err := HashPassword("short")
	assert.Error(t, err)

	h, err := HashPassword("long enough")
	require.NoError(t, err)
	assert.True(t, VerifyPassword(h, "long enough"))
	assert.False(t, VerifyPassword(h, "other"))
	assert.False(t, VerifyPassword("", "long enough"))
}
