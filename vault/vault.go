// Package vault provides reversible, tamper-evident protection of secret
// strings at rest using AES-256-GCM with per-call key derivation.
//
// Every encryption call derives a one-off key from the process master key,
// a fresh random salt, and the caller-supplied context string via
// HKDF-SHA256. The context is also bound into the GCM authentication tag as
// associated data, so a payload encrypted for one purpose (e.g.
// "oauth-access") cannot be swapped into a field expecting another without
// failing decryption.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Algorithm identifies the payload format produced by this package.
// Embedded in every payload for forward compatibility.
const Algorithm = "aes-256-gcm"

const (
	// KeySize is the required master key size for AES-256
	KeySize = 32

	// saltSize is the per-call HKDF salt size
	saltSize = 16

	// nonceSize is the GCM nonce size
	nonceSize = 12

	// tagSize is the GCM authentication tag size
	tagSize = 16
)

// Sentinel errors for classification at the service boundary.
var (
	// ErrInvalidKey indicates the master key is missing or has the wrong length.
	ErrInvalidKey = errors.New("vault: master key must be exactly 32 bytes for AES-256")

	// ErrEmptyPlaintext indicates an attempt to encrypt an empty string.
	// An "encrypted nothing" is a meaningless and dangerous edge case.
	ErrEmptyPlaintext = errors.New("vault: plaintext must not be empty")

	// ErrDecryptFailed indicates tag verification failed: corruption,
	// tampering, wrong key, or wrong context. Never partial plaintext.
	ErrDecryptFailed = errors.New("vault: decryption failed")

	// ErrMalformedPayload indicates a structurally invalid payload.
	ErrMalformedPayload = errors.New("vault: malformed payload")
)

// EncryptedPayload is the serializable output of Encrypt. Immutable once
// created; consumed exactly once by a matching Decrypt. Byte fields are
// base64-encoded in JSON, matching the persisted token row layout.
type EncryptedPayload struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
	Salt       []byte `json:"salt"`
	AuthTag    []byte `json:"auth_tag"`
	Algorithm  string `json:"algorithm"`
	Context    string `json:"context"`
}

// Vault encrypts and decrypts individual secrets with a process-wide master
// key loaded once at startup. Stateless beyond the key; no I/O.
type Vault struct {
	key []byte
}

// New creates a Vault from a 32-byte master key.
// A missing or mis-sized key is a configuration error, surfaced here rather
// than deferred to first use.
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidKey, len(key))
	}
	v := &Vault{key: make([]byte, KeySize)}
	copy(v.key, key)
	return v, nil
}

// Encrypt encrypts plaintext bound to the given context string.
// Repeated calls with identical inputs produce different salt, IV, and
// ciphertext because both values are freshly random per call.
func (v *Vault) Encrypt(plaintext, context string) (*EncryptedPayload, error) {
	if plaintext == "" {
		return nil, ErrEmptyPlaintext
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("vault: failed to generate salt: %w", err)
	}

	gcm, err := v.aead(salt, context)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault: failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), []byte(context))

	// GCM appends the tag to the ciphertext; split it out so the stored
	// payload carries the tag as its own field.
	split := len(sealed) - tagSize
	return &EncryptedPayload{
		Ciphertext: sealed[:split],
		IV:         nonce,
		Salt:       salt,
		AuthTag:    sealed[split:],
		Algorithm:  Algorithm,
		Context:    context,
	}, nil
}

// Decrypt verifies and decrypts a payload produced by Encrypt.
// Any tag mismatch fails with ErrDecryptFailed; altered plaintext is never
// returned.
func (v *Vault) Decrypt(p *EncryptedPayload) (string, error) {
	if p == nil {
		return "", fmt.Errorf("%w: nil payload", ErrMalformedPayload)
	}
	if p.Algorithm != Algorithm {
		return "", fmt.Errorf("%w: unsupported algorithm %q", ErrMalformedPayload, p.Algorithm)
	}
	if len(p.IV) != nonceSize || len(p.Salt) != saltSize || len(p.AuthTag) != tagSize {
		return "", fmt.Errorf("%w: bad field lengths", ErrMalformedPayload)
	}
	if len(p.Ciphertext) == 0 {
		return "", fmt.Errorf("%w: empty ciphertext", ErrMalformedPayload)
	}

	gcm, err := v.aead(p.Salt, p.Context)
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(p.Ciphertext)+tagSize)
	sealed = append(sealed, p.Ciphertext...)
	sealed = append(sealed, p.AuthTag...)

	plaintext, err := gcm.Open(nil, p.IV, sealed, []byte(p.Context))
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}

// aead builds the AES-256-GCM cipher for a salt/context pair.
// The per-call key is HKDF-SHA256(masterKey, salt, info=context).
func (v *Vault) aead(salt []byte, context string) (cipher.AEAD, error) {
	derived := make([]byte, KeySize)
	kdf := hkdf.New(sha256.New, v.key, salt, []byte(context))
	if _, err := io.ReadFull(kdf, derived); err != nil {
		return nil, fmt.Errorf("vault: key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// GenerateKey generates a new random 32-byte master key
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("vault: failed to generate key: %w", err)
	}
	return key, nil
}

// KeyFromBase64 decodes a base64-encoded master key
func KeyFromBase64(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to decode base64 key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidKey, len(key))
	}
	return key, nil
}

// KeyToBase64 encodes a master key to base64
func KeyToBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}
