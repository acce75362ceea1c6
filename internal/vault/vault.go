// Package vault encrypts provider tokens at rest. Each key class gets its own
// PBKDF2-derived AES-256-GCM key so a blob sealed for one purpose never opens
// under another.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"wabagate/internal/constants"

	"golang.org/x/crypto/pbkdf2"
)

type KeyClass string

const (
	KeyClassMessaging KeyClass = "messaging"
	KeyClassMail      KeyClass = "mail"
)

var (
	ErrUnknownKeyClass  = errors.New("unknown key class")
	ErrMalformedBlob    = errors.New("malformed encrypted blob")
	ErrKeyClassMismatch = errors.New("blob was not sealed for this key class")
)

// classSalt returns the fixed salt for a key class. The salt only separates
// classes; per-record randomness comes from the IV.
func classSalt(class KeyClass) []byte {
	sum := sha256.Sum256([]byte("wabagate/vault/" + string(class) + "/v1"))
	return sum[:constants.VaultSaltSize]
}

type sealer struct {
	salt []byte
	gcm  cipher.AEAD
}

// Vault holds one sealer per key class. It is safe for concurrent use.
type Vault struct {
	classes map[KeyClass]sealer
}

func New(secret string) (*Vault, error) {
	if len(secret) < constants.MinVaultSecret {
		return nil, fmt.Errorf("encryption secret must be at least %d characters long", constants.MinVaultSecret)
	}

	v := &Vault{classes: make(map[KeyClass]sealer, 2)}
	for _, class := range []KeyClass{KeyClassMessaging, KeyClassMail} {
		salt := classSalt(class)
		key := pbkdf2.Key([]byte(secret), salt, constants.PBKDF2Iterations, constants.VaultKeySize, sha256.New)

		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create cipher: %w", err)
		}
		gcm, err := cipher.NewGCMWithNonceSize(block, constants.VaultNonceSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
		v.classes[class] = sealer{salt: salt, gcm: gcm}
	}
	return v, nil
}

// Encrypt seals plaintext as base64(salt | iv | tag | ciphertext). Empty input yields empty output.
func (v *Vault) Encrypt(plaintext string, class KeyClass) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	s, ok := v.classes[class]
	if !ok {
		return "", ErrUnknownKeyClass
	}

	iv := make([]byte, constants.VaultNonceSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := s.gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-constants.VaultTagSize], sealed[len(sealed)-constants.VaultTagSize:]

	out := make([]byte, 0, len(s.salt)+len(iv)+len(sealed))
	out = append(out, s.salt...)
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a blob produced by Encrypt. Any tamper or class mismatch fails.
func (v *Vault) Decrypt(blob string, class KeyClass) (string, error) {
	if blob == "" {
		return "", nil
	}
	s, ok := v.classes[class]
	if !ok {
		return "", ErrUnknownKeyClass
	}

	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	header := constants.VaultSaltSize + constants.VaultNonceSize + constants.VaultTagSize
	if len(data) < header {
		return "", ErrMalformedBlob
	}

	salt := data[:constants.VaultSaltSize]
	iv := data[constants.VaultSaltSize : constants.VaultSaltSize+constants.VaultNonceSize]
	tag := data[constants.VaultSaltSize+constants.VaultNonceSize : header]
	ct := data[header:]

	if !bytes.Equal(salt, s.salt) {
		return "", ErrKeyClassMismatch
	}

	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plaintext, err := s.gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
