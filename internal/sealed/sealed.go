// Package sealed encrypts stored message payloads with age. Ciphertext is
// base64 so it fits in text columns.
package sealed

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// Cipher encrypts to the recipient of one x25519 identity and decrypts with it.
type Cipher struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewCipher parses an AGE-SECRET-KEY-1... identity.
func NewCipher(identity string) (*Cipher, error) {
	id, err := age.ParseX25519Identity(strings.TrimSpace(identity))
	if err != nil {
		return nil, fmt.Errorf("parse age identity: %w", err)
	}
	return &Cipher{identity: id, recipient: id.Recipient()}, nil
}

// GenerateCipher creates a Cipher over a fresh identity. Used by local runs
// that have no configured key; the returned identity string can be saved to
// decrypt the output later.
func GenerateCipher() (*Cipher, string, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, "", fmt.Errorf("generate age identity: %w", err)
	}
	return &Cipher{identity: id, recipient: id.Recipient()}, id.String(), nil
}

// Recipient is the public key ciphertext is sealed to.
func (c *Cipher) Recipient() string {
	return c.recipient.String()
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, c.recipient)
	if err != nil {
		return "", fmt.Errorf("create age encryptor: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("write plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize age encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode base64 ciphertext: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), c.identity)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read plaintext: %w", err)
	}
	return string(plaintext), nil
}
