package vapid

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T, tokenTTL time.Duration) *Signer {
	t.Helper()

	pair, err := GenerateKeyPair()
	require.NoError(t, err)

	signer, err := NewSigner(pair.PrivateKey, "mailto:ops@example.com", tokenTTL)
	require.NoError(t, err)
	return signer
}

func parseAuthorization(t *testing.T, signer *Signer, header string) *jwt.RegisteredClaims {
	t.Helper()

	require.True(t, strings.HasPrefix(header, "vapid t="), "header %q", header)
	parts := strings.SplitN(strings.TrimPrefix(header, "vapid t="), ", k=", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, signer.PublicKey(), parts[1])

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(parts[0], claims, func(token *jwt.Token) (any, error) {
		return &signer.key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)

	return claims
}

func TestAuthorizationClaims(t *testing.T) {
	signer := newTestSigner(t, 0)

	header, err := signer.Authorization("https://push.example.com/send/abc?token=xyz")
	require.NoError(t, err)

	claims := parseAuthorization(t, signer, header)
	require.Len(t, claims.Audience, 1)
	assert.Equal(t, "https://push.example.com", claims.Audience[0])
	assert.Equal(t, "mailto:ops@example.com", claims.Subject)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(DefaultTokenTTL), claims.ExpiresAt.Time, time.Minute)
}

func TestAuthorizationAudienceKeepsPort(t *testing.T) {
	signer := newTestSigner(t, 0)

	header, err := signer.Authorization("https://push.example.com:8443/send/abc")
	require.NoError(t, err)

	claims := parseAuthorization(t, signer, header)
	require.Len(t, claims.Audience, 1)
	assert.Equal(t, "https://push.example.com:8443", claims.Audience[0])
}

func TestAuthorizationCachedPerOrigin(t *testing.T) {
	signer := newTestSigner(t, 0)

	first, err := signer.Authorization("https://push.example.com/send/abc")
	require.NoError(t, err)
	second, err := signer.Authorization("https://push.example.com/send/def")
	require.NoError(t, err)
	assert.Equal(t, first, second, "same origin reuses the cached token")

	other, err := signer.Authorization("https://updates.push.services.mozilla.com/wpush/v2/abc")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	claims := parseAuthorization(t, signer, other)
	require.Len(t, claims.Audience, 1)
	assert.Equal(t, "https://updates.push.services.mozilla.com", claims.Audience[0])
}

func TestAuthorizationReissuesNearExpiry(t *testing.T) {
	signer := newTestSigner(t, time.Hour)

	current := time.Now()
	signer.now = func() time.Time { return current }

	first, err := signer.Authorization("https://push.example.com/send/abc")
	require.NoError(t, err)

	// Half way through the token lifetime the cache still serves it.
	current = current.Add(30 * time.Minute)
	cached, err := signer.Authorization("https://push.example.com/send/abc")
	require.NoError(t, err)
	assert.Equal(t, first, cached)

	// Past 11/12 of the lifetime a fresh token is issued.
	current = current.Add(26 * time.Minute)
	reissued, err := signer.Authorization("https://push.example.com/send/abc")
	require.NoError(t, err)
	assert.NotEqual(t, first, reissued)

	oldClaims := parseAuthorization(t, signer, first)
	newClaims := parseAuthorization(t, signer, reissued)
	assert.True(t, newClaims.ExpiresAt.After(oldClaims.ExpiresAt.Time))
}

func TestAuthorizationRejectsInvalidEndpoint(t *testing.T) {
	signer := newTestSigner(t, 0)

	for _, endpoint := range []string{"", "nonsense", "push.example.com/send"} {
		_, err := signer.Authorization(endpoint)
		assert.Error(t, err, "endpoint %q", endpoint)
	}
}

func TestNewSignerRejectsBadSubject(t *testing.T) {
	pair, err := GenerateKeyPair()
	require.NoError(t, err)

	for _, subject := range []string{"", "ops@example.com", "http://example.com"} {
		_, err := NewSigner(pair.PrivateKey, subject, 0)
		assert.Error(t, err, "subject %q", subject)
	}

	_, err = NewSigner(pair.PrivateKey, "https://example.com/contact", 0)
	assert.NoError(t, err)
}

func TestNewSignerRejectsLongTTL(t *testing.T) {
	pair, err := GenerateKeyPair()
	require.NoError(t, err)

	_, err = NewSigner(pair.PrivateKey, "mailto:ops@example.com", 25*time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "24h")
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	_, err := NewSigner("not-a-key", "mailto:ops@example.com", 0)
	assert.Error(t, err)
}
