// codec.go - PBKDF2 key derivation and AES-GCM payload sealing.

// Package codec implements the password-based payload encryption used for
// protected uploads.
//
// A blob is salt(16) || nonce(12) || AES-256-GCM ciphertext with the tag
// appended. The key is PBKDF2-HMAC-SHA256 over the password and salt. The
// parameters match WebCrypto so a browser can decrypt the same bytes.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize   = 16
	NonceSize  = 12
	KeySize    = 32
	TagSize    = 16
	Iterations = 100000

	// HeaderSize is the fixed prefix before the ciphertext.
	HeaderSize = SaltSize + NonceSize
)

var (
	// ErrDecryptionFailed covers every decrypt failure: short input, wrong
	// password and tampered data all look the same to the caller.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrEmptyPassword is returned by Encrypt for an empty password.
	ErrEmptyPassword = errors.New("password must not be empty")
)

// randReader is swapped in tests.
var randReader io.Reader = rand.Reader

// Encrypt seals plaintext under a key derived from password with a fresh
// salt and nonce.
func Encrypt(plaintext []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}

	header := make([]byte, HeaderSize, HeaderSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(randReader, header); err != nil {
		return nil, fmt.Errorf("codec: read random: %w", err)
	}
	salt, nonce := header[:SaltSize], header[SaltSize:]

	aead, err := newAEAD(password, salt)
	if err != nil {
		return nil, err
	}
	return aead.Seal(header, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt.
func Decrypt(blob []byte, password string) ([]byte, error) {
	if len(blob) < HeaderSize+TagSize {
		return nil, ErrDecryptionFailed
	}
	salt, nonce, ciphertext := blob[:SaltSize], blob[SaltSize:HeaderSize], blob[HeaderSize:]

	aead, err := newAEAD(password, salt)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// DeriveKey returns the AES key for password and salt.
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, Iterations, KeySize, sha256.New)
}

func newAEAD(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(DeriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("codec: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("codec: new gcm: %w", err)
	}
	return aead, nil
}
