package subscription

import (
	"fmt"
	"time"
)

// Subscription is one browser push registration keyed by the caller's
// subscriber ID. The endpoint and keys come from the browser's
// PushSubscription object; P256dh and Auth stay in unpadded base64url
// form at rest and are decoded on demand.
type Subscription struct {
	ID           string    `json:"id"`
	SubscriberID string    `json:"subscriberId"`
	Endpoint     string    `json:"endpoint"`
	P256dh       string    `json:"p256dh,omitempty"`
	Auth         string    `json:"auth,omitempty"`
	UserAgent    string    `json:"userAgent,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HasKeys reports whether the subscription carries the client key pair
// needed for encrypted payloads. Subscriptions without keys can still
// receive payload-free pushes.
func (s *Subscription) HasKeys() bool {
	return s.P256dh != "" && s.Auth != ""
}

// Keys decodes the client public key and auth secret.
func (s *Subscription) Keys() (p256dh, auth []byte, err error) {
	if !s.HasKeys() {
		return nil, nil, fmt.Errorf("subscription has no encryption keys")
	}

	p256dh, err = decodeBase64URL(s.P256dh)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid p256dh encoding")
	}

	auth, err = decodeBase64URL(s.Auth)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid auth encoding")
	}

	return p256dh, auth, nil
}

// Normalize validates the endpoint and re-encodes both keys in
// unpadded base64url form. Keys are optional but must come as a pair.
func (s *Subscription) Normalize() error {
	if s.SubscriberID == "" {
		return fmt.Errorf("subscriberId is required")
	}

	if err := ValidateEndpoint(s.Endpoint); err != nil {
		return err
	}

	if s.P256dh == "" && s.Auth == "" {
		return nil
	}
	if s.P256dh == "" || s.Auth == "" {
		return fmt.Errorf("p256dh and auth must be provided together")
	}

	p256dh, err := NormalizeP256dh(s.P256dh)
	if err != nil {
		return err
	}
	auth, err := NormalizeAuthSecret(s.Auth)
	if err != nil {
		return err
	}

	s.P256dh = p256dh
	s.Auth = auth
	return nil
}
