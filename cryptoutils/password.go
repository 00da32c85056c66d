package cryptoutils

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/ruteri/sealed-keymaster/interfaces"
	"golang.org/x/crypto/argon2"
)

// SaltSize is the length of the random salt stored in password envelopes.
const SaltSize = 16

// DeriveKey derives a 32-byte envelope key from a password using Argon2id.
func DeriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, KeySize)
}

// SealWithPassword encrypts plaintext under a key derived from password.
// Format: [version 0x02][salt (16)][IV (16)][ciphertext]
func SealWithPassword(password string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	key := DeriveKey(password, salt)
	defer wipeBytes(key)

	ciphertext, err := encryptCBC(key, iv, plaintext)
	if err != nil {
		return nil, err
	}

	result := make([]byte, 0, 1+SaltSize+IVSize+len(ciphertext))
	result = append(result, VersionPassword)
	result = append(result, salt...)
	result = append(result, iv...)
	result = append(result, ciphertext...)
	return result, nil
}

// OpenWithPassword decrypts an envelope produced by SealWithPassword. A wrong
// password surfaces as ErrIntegrity.
func OpenWithPassword(password string, envelope []byte) ([]byte, error) {
	if len(envelope) < 1 {
		return nil, fmt.Errorf("%w: empty envelope", interfaces.ErrDecode)
	}
	if envelope[0] != VersionPassword {
		return nil, fmt.Errorf("%w: expected %d, got %d", interfaces.ErrUnsupportedVersion, VersionPassword, envelope[0])
	}
	if len(envelope) < 1+SaltSize+IVSize+IVSize {
		return nil, fmt.Errorf("%w: envelope too short", interfaces.ErrDecode)
	}

	salt := envelope[1 : 1+SaltSize]
	iv := envelope[1+SaltSize : 1+SaltSize+IVSize]

	key := DeriveKey(password, salt)
	defer wipeBytes(key)

	return decryptCBC(key, iv, envelope[1+SaltSize+IVSize:])
}
