package encryption

import (
	"crypto/ecdh"
	"encoding/binary"
	"fmt"
)

// Decrypt opens an aes128gcm message with the subscription's private
// key and auth secret. It is the inverse of Encrypt and exists for
// verification: only single-record messages with a 65-byte key id are
// accepted, which is all Encrypt and real push payloads produce.
func Decrypt(message, clientPrivateKey, authSecret []byte) ([]byte, error) {
	if len(message) < headerLen+1+tagLen {
		return nil, fmt.Errorf("message too short: %d bytes", len(message))
	}

	salt := message[:saltLen]
	rs := binary.BigEndian.Uint32(message[saltLen : saltLen+4])
	idLen := int(message[saltLen+4])
	if idLen != keyIDLen {
		return nil, fmt.Errorf("unexpected key id length %d", idLen)
	}

	serverPublic := message[saltLen+5 : headerLen]
	ciphertext := message[headerLen:]
	if len(ciphertext) > int(rs) {
		return nil, fmt.Errorf("multi-record messages are not supported")
	}

	clientKey, err := ecdh.P256().NewPrivateKey(clientPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid client private key: %w", err)
	}
	serverKey, err := ecdh.P256().NewPublicKey(serverPublic)
	if err != nil {
		return nil, fmt.Errorf("invalid server public key: %w", err)
	}
	if len(authSecret) != saltLen {
		return nil, fmt.Errorf("invalid auth secret length: expected %d bytes, got %d", saltLen, len(authSecret))
	}

	sharedSecret, err := clientKey.ECDH(serverKey)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}

	clientPublic := clientKey.PublicKey().Bytes()
	key, nonce, err := deriveKeys(sharedSecret, authSecret, clientPublic, serverPublic, salt)
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	padded, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt message: %w", err)
	}

	// Strip the padding: trailing zeros, then the final-record
	// delimiter.
	end := len(padded) - 1
	for end >= 0 && padded[end] == 0 {
		end--
	}
	if end < 0 || padded[end] != paddingDelimiter {
		return nil, fmt.Errorf("invalid padding")
	}

	return padded[:end], nil
}
