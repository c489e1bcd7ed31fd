package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLength = 8
	ivLength   = 12
	keyLength  = 128 / 8
	iterations = 10000
)

// ErrDecryptionFailed indicates a blob could not be authenticated or decoded.
// All decryption failure causes map to this one error.
var ErrDecryptionFailed = errors.New("decryption failed")

// ErrRandomSource indicates the system random source failed.
var ErrRandomSource = errors.New("failed to read random source")

// GenerateSecureData returns count cryptographically secure random bytes.
func GenerateSecureData(count int) ([]byte, error) {
	data := make([]byte, count)
	if _, err := rand.Read(data); err != nil {
		return nil, ErrRandomSource
	}
	return data, nil
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, keyLength, sha256.New)
}

func newAEAD(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, ivLength)
}

// Encrypt encrypts plaintext for network transmission with a per-message
// salt and nonce, returning salt || iv || ciphertext+tag.
func Encrypt(plaintext []byte, password string) ([]byte, error) {
	salt, err := GenerateSecureData(saltLength)
	if err != nil {
		return nil, err
	}
	iv, err := GenerateSecureData(ivLength)
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(password, salt)
	if err != nil {
		return nil, err
	}

	blob := make([]byte, 0, saltLength+ivLength+len(plaintext)+aead.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, iv...)
	return aead.Seal(blob, iv, plaintext, nil), nil
}

// Decrypt authenticates and decrypts a blob produced by Encrypt.
func Decrypt(blob []byte, password string) ([]byte, error) {
	if len(blob) < saltLength+ivLength {
		return nil, ErrDecryptionFailed
	}

	salt := blob[:saltLength]
	iv := blob[saltLength : saltLength+ivLength]
	ciphertext := blob[saltLength+ivLength:]

	aead, err := newAEAD(password, salt)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Encryptor binds the envelope to a password source so transports can
// encrypt and decrypt per message without holding the password themselves.
// The password is re-read on every call, so preference changes take effect
// immediately.
type Encryptor struct {
	password func() string
}

// NewEncryptor creates an Encryptor reading the password from the provider.
func NewEncryptor(password func() string) *Encryptor {
	return &Encryptor{password: password}
}

// Enabled reports whether a non-empty password is configured.
func (e *Encryptor) Enabled() bool {
	return e.password() != ""
}

// Encrypt encrypts data with the current password.
func (e *Encryptor) Encrypt(data []byte) ([]byte, error) {
	return Encrypt(data, e.password())
}

// Decrypt decrypts data with the current password.
func (e *Encryptor) Decrypt(data []byte) ([]byte, error) {
	return Decrypt(data, e.password())
}
