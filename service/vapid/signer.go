package vapid

import (
	"crypto/ecdsa"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTokenTTL is how long issued tokens stay valid. RFC 8292
	// caps token lifetime at 24 hours; half of that leaves plenty of
	// slack for clock skew between us and the push service.
	DefaultTokenTTL = 12 * time.Hour

	// MaxTokenTTL is the hard cap from RFC 8292.
	MaxTokenTTL = 24 * time.Hour
)

// Signer issues VAPID Authorization headers. Tokens are signed once
// per push service origin and cached until shortly before expiry, so
// dispatching a large batch does not mean one ES256 signature per
// subscriber.
type Signer struct {
	key       *ecdsa.PrivateKey
	publicKey string
	subject   string
	tokenTTL  time.Duration
	now       func() time.Time

	mu     sync.RWMutex
	tokens map[string]cachedToken
}

type cachedToken struct {
	header  string
	created time.Time
}

// NewSigner builds a signer from a base64url private key and a contact
// subject (a mailto: or https: URI). A tokenTTL of zero selects
// DefaultTokenTTL.
func NewSigner(privateKey, subject string, tokenTTL time.Duration) (*Signer, error) {
	key, err := ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}

	if !strings.HasPrefix(subject, "mailto:") && !strings.HasPrefix(subject, "https://") {
		return nil, fmt.Errorf("subject must be a mailto: or https: URI")
	}

	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	if tokenTTL > MaxTokenTTL {
		return nil, fmt.Errorf("token TTL must not exceed %s", MaxTokenTTL)
	}

	publicKey, err := EncodePublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	return &Signer{
		key:       key,
		publicKey: publicKey,
		subject:   subject,
		tokenTTL:  tokenTTL,
		now:       time.Now,
		tokens:    make(map[string]cachedToken),
	}, nil
}

// PublicKey returns the application server key in base64url form.
func (s *Signer) PublicKey() string {
	return s.publicKey
}

// Authorization returns the header value for a push to endpoint, in
// the form "vapid t=<jwt>, k=<public key>". The token's audience is
// the endpoint's origin, so one token serves every subscription on the
// same push service.
func (s *Signer) Authorization(endpoint string) (string, error) {
	origin, err := endpointOrigin(endpoint)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	token, ok := s.tokens[origin]
	s.mu.RUnlock()
	if ok && s.now().Sub(token.created) < s.reissueAfter() {
		return token.header, nil
	}

	return s.sign(origin)
}

func (s *Signer) sign(origin string) (string, error) {
	created := s.now()
	claims := jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{origin},
		ExpiresAt: jwt.NewNumericDate(created.Add(s.tokenTTL)),
		Subject:   s.subject,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token for %s: %w", origin, err)
	}

	header := fmt.Sprintf("vapid t=%s, k=%s", signed, s.publicKey)

	s.mu.Lock()
	s.tokens[origin] = cachedToken{header: header, created: created}
	s.mu.Unlock()

	return header, nil
}

// reissueAfter is the cache lifetime: 11/12 of the token TTL, so a
// cached token is never handed out close to its expiry.
func (s *Signer) reissueAfter() time.Duration {
	return s.tokenTTL - s.tokenTTL/12
}

// endpointOrigin extracts the audience for a push endpoint: scheme and
// host only, port included when present.
func endpointOrigin(endpoint string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid endpoint URL")
	}
	return u.Scheme + "://" + u.Host, nil
}
