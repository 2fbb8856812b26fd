// Package vault stores MTProto session blobs encrypted at rest and
// normalizes the two on-disk session shapes (Telethon SQLite file, string
// session) into the single canonical string-session form.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// Vault provides symmetric authenticated encryption for session payloads.
// AES-GCM with a random nonce per message; output is base64(nonce || ct).
type Vault struct {
	gcm cipher.AEAD
}

// New constructs an AES-GCM vault. Key must be 16, 24, or 32 bytes
// (AES-128/192/256).
func New(key string) (*Vault, error) {
	k := []byte(key)
	n := len(k)
	if n != 16 && n != 24 && n != 32 {
		return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes; got %d", n)
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &Vault{gcm: gcm}, nil
}

// Encrypt seals arbitrary session bytes and returns base64 ciphertext.
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}
	ct := v.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt accepts the output of Encrypt and returns the original bytes.
func (v *Vault) Decrypt(b64 string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	ns := v.gcm.NonceSize()
	if len(data) < ns {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ct := data[:ns], data[ns:]
	pt, err := v.gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	return pt, nil
}

// DecryptSession decrypts a stored blob and normalizes it to the canonical
// string-session form, whatever shape was originally imported.
func (v *Vault) DecryptSession(cipherB64 string) (string, error) {
	raw, err := v.Decrypt(cipherB64)
	if err != nil {
		return "", err
	}
	return Normalize(raw)
}
