// Package encryption implements the aes128gcm message encryption for
// web push payloads defined in RFC 8291. Every payload is sealed
// against one subscription's keys: an ephemeral ECDH key agreement
// with the client's p256dh key, HKDF key derivation bound to the auth
// secret, then a single AES-128-GCM record.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	saltLen  = 16
	keyLen   = 16
	nonceLen = 12
	tagLen   = 16

	// keyIDLen is the length of the keyid field: the uncompressed
	// P-256 point of the ephemeral server key.
	keyIDLen = 65

	// headerLen covers salt, record size, key id length and key id.
	headerLen = saltLen + 4 + 1 + keyIDLen

	// recordSize is the fixed rs value. Push services cap the whole
	// message at 4096 bytes, so everything goes in one record.
	recordSize = 4096

	// MaxPlaintext is the largest payload Encrypt accepts: the record
	// minus header, GCM tag and the one-byte padding delimiter.
	MaxPlaintext = recordSize - headerLen - tagLen - 1

	// paddingDelimiter marks the end of the plaintext in the final
	// record.
	paddingDelimiter = 0x02
)

// ErrPayloadTooLarge reports a plaintext over MaxPlaintext bytes.
// Callers check for it with errors.Is.
var ErrPayloadTooLarge = errors.New("payload exceeds web push size limit")

var (
	infoWebPush = []byte("WebPush: info\x00")
	infoCEK     = []byte("Content-Encoding: aes128gcm\x00")
	infoNonce   = []byte("Content-Encoding: nonce\x00")
)

// Encrypt seals plaintext for the subscription identified by its
// p256dh public key and auth secret, returning the complete aes128gcm
// message body ready to POST. Each call uses a fresh ephemeral key and
// salt, so encrypting the same payload twice never yields the same
// bytes.
func Encrypt(plaintext, clientPublicKey, authSecret []byte) ([]byte, error) {
	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	return encrypt(plaintext, clientPublicKey, authSecret, ephemeral, salt)
}

// encrypt is Encrypt with the randomness passed in, so tests can pin
// the ephemeral key and salt to known-answer values.
func encrypt(plaintext, clientPublicKey, authSecret []byte, ephemeral *ecdh.PrivateKey, salt []byte) ([]byte, error) {
	if len(plaintext) > MaxPlaintext {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrPayloadTooLarge, len(plaintext), MaxPlaintext)
	}

	clientKey, err := ecdh.P256().NewPublicKey(clientPublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid client public key: %w", err)
	}
	if len(authSecret) != saltLen {
		return nil, fmt.Errorf("invalid auth secret length: expected %d bytes, got %d", saltLen, len(authSecret))
	}

	sharedSecret, err := ephemeral.ECDH(clientKey)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}

	serverPublic := ephemeral.PublicKey().Bytes()
	key, nonce, err := deriveKeys(sharedSecret, authSecret, clientPublicKey, serverPublic, salt)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 0, headerLen+len(plaintext)+1+tagLen)
	header = append(header, salt...)
	header = binary.BigEndian.AppendUint32(header, recordSize)
	header = append(header, byte(len(serverPublic)))
	header = append(header, serverPublic...)

	padded := make([]byte, 0, len(plaintext)+1)
	padded = append(padded, plaintext...)
	padded = append(padded, paddingDelimiter)

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	return aead.Seal(header, nonce, padded, nil), nil
}

// deriveKeys runs the RFC 8291 key schedule: auth secret and both
// public keys bind the ECDH result to this subscription, then the
// message salt expands it into the content key and nonce.
func deriveKeys(sharedSecret, authSecret, clientPublic, serverPublic, salt []byte) (key, nonce []byte, err error) {
	info := make([]byte, 0, len(infoWebPush)+2*keyIDLen)
	info = append(info, infoWebPush...)
	info = append(info, clientPublic...)
	info = append(info, serverPublic...)

	ikm := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, sharedSecret, authSecret, info), ikm); err != nil {
		return nil, nil, fmt.Errorf("failed to derive input key: %w", err)
	}

	key = make([]byte, keyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, infoCEK), key); err != nil {
		return nil, nil, fmt.Errorf("failed to derive content key: %w", err)
	}

	nonce = make([]byte, nonceLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, infoNonce), nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to derive nonce: %w", err)
	}

	return key, nonce, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	return aead, nil
}
