// Package vapid signs push requests per RFC 8292 so push services can
// attribute them to this application server.
package vapid

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

// KeyPair is an application server key pair in the base64url form the
// Push API uses: a 32-byte private scalar and a 65-byte uncompressed
// public point. The public key is what the browser passes as
// applicationServerKey when subscribing.
type KeyPair struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// GenerateKeyPair creates a fresh P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	ecdhKey, err := key.ECDH()
	if err != nil {
		return nil, fmt.Errorf("failed to encode key: %w", err)
	}

	return &KeyPair{
		PublicKey:  base64.RawURLEncoding.EncodeToString(ecdhKey.PublicKey().Bytes()),
		PrivateKey: base64.RawURLEncoding.EncodeToString(ecdhKey.Bytes()),
	}, nil
}

// ParsePrivateKey decodes a base64url private scalar into a signing
// key. The scalar must be 32 bytes and within the curve order.
func ParsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	decoded, err := decodeBase64URL(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid private key encoding")
	}

	if len(decoded) != 32 {
		return nil, fmt.Errorf("invalid private key length: expected 32 bytes, got %d", len(decoded))
	}

	ecdhKey, err := ecdh.P256().NewPrivateKey(decoded)
	if err != nil {
		return nil, fmt.Errorf("invalid private key scalar")
	}

	pub := ecdhKey.PublicKey().Bytes()
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(pub[1:33]),
			Y:     new(big.Int).SetBytes(pub[33:65]),
		},
		D: new(big.Int).SetBytes(decoded),
	}, nil
}

// EncodePublicKey returns the uncompressed point in base64url form.
func EncodePublicKey(key *ecdsa.PublicKey) (string, error) {
	ecdhKey, err := key.ECDH()
	if err != nil {
		return "", fmt.Errorf("failed to encode public key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(ecdhKey.Bytes()), nil
}

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
