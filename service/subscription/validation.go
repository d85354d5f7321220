package subscription

import (
	"crypto/ecdh"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// ValidateEndpoint checks that raw is an absolute http or https URL.
// Push services always use https; http is allowed so local mock
// services can stand in during development.
func ValidateEndpoint(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u == nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid endpoint URL")
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("endpoint must use http or https")
	}

	return nil
}

// NormalizeP256dh validates the client public key and returns it in
// unpadded base64url form. The key must be an uncompressed P-256 point.
func NormalizeP256dh(raw string) (string, error) {
	decoded, err := decodeBase64URL(raw)
	if err != nil {
		return "", fmt.Errorf("invalid p256dh encoding")
	}

	if len(decoded) != 65 || decoded[0] != 0x04 {
		return "", fmt.Errorf("invalid p256dh key format")
	}

	if _, err := ecdh.P256().NewPublicKey(decoded); err != nil {
		return "", fmt.Errorf("invalid p256dh point")
	}

	return base64.RawURLEncoding.EncodeToString(decoded), nil
}

// NormalizeAuthSecret validates the 16-byte auth secret and returns it
// in unpadded base64url form.
func NormalizeAuthSecret(raw string) (string, error) {
	decoded, err := decodeBase64URL(raw)
	if err != nil {
		return "", fmt.Errorf("invalid auth encoding")
	}

	if len(decoded) != 16 {
		return "", fmt.Errorf("invalid auth length: expected 16 bytes, got %d", len(decoded))
	}

	return base64.RawURLEncoding.EncodeToString(decoded), nil
}

// decodeBase64URL accepts both padded and unpadded base64url input,
// since browsers differ in how they serialize subscription keys.
func decodeBase64URL(raw string) ([]byte, error) {
	key := strings.TrimSpace(raw)
	if decoded, err := base64.RawURLEncoding.DecodeString(key); err == nil {
		return decoded, nil
	}
	decoded, err := base64.URLEncoding.DecodeString(key)
	if err == nil {
		return decoded, nil
	}
	return nil, err
}
