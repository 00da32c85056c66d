package cryptoutils

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/ruteri/sealed-keymaster/interfaces"
)

const (
	// KeySize is the AES-256 key length used for every envelope.
	KeySize = 32

	// DigestSize is the length of the integrity digest prepended to plaintext.
	DigestSize = sha1.Size

	// IVSize is the CBC initialization vector length.
	IVSize = aes.BlockSize

	// VersionKey tags envelopes sealed under a directly supplied random key.
	VersionKey byte = 1

	// VersionPassword tags envelopes sealed under a password-derived key.
	VersionPassword byte = 2
)

// Digest returns the 20-byte integrity digest of data.
func Digest(data []byte) []byte {
	sum := sha1.Sum(data)
	return sum[:]
}

// NewSymmetricKey generates a fresh random 32-byte key.
func NewSymmetricKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext under key. The result is
// [version 0x01][IV (16)][AES-256-CBC(SHA1(plaintext) || plaintext)].
func Seal(key, plaintext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", interfaces.ErrInvalidArgument, KeySize, len(key))
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	ciphertext, err := encryptCBC(key, iv, plaintext)
	if err != nil {
		return nil, err
	}

	// Format: [version (1)][iv (16)][ciphertext]
	result := make([]byte, 1+IVSize+len(ciphertext))
	result[0] = VersionKey
	copy(result[1:1+IVSize], iv)
	copy(result[1+IVSize:], ciphertext)
	return result, nil
}

// Open decrypts an envelope produced by Seal. It never returns plaintext
// whose embedded digest does not match.
func Open(key, envelope []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", interfaces.ErrInvalidArgument, KeySize, len(key))
	}
	if len(envelope) < 1 {
		return nil, fmt.Errorf("%w: empty envelope", interfaces.ErrDecode)
	}
	if envelope[0] != VersionKey {
		return nil, fmt.Errorf("%w: expected %d, got %d", interfaces.ErrUnsupportedVersion, VersionKey, envelope[0])
	}
	if len(envelope) < 1+IVSize+aes.BlockSize {
		return nil, fmt.Errorf("%w: envelope too short", interfaces.ErrDecode)
	}

	iv := envelope[1 : 1+IVSize]
	return decryptCBC(key, iv, envelope[1+IVSize:])
}

// EncodeEnvelope returns the base64 interchange form of an envelope.
func EncodeEnvelope(envelope []byte) string {
	return base64.StdEncoding.EncodeToString(envelope)
}

// DecodeEnvelope parses the base64 interchange form of an envelope.
func DecodeEnvelope(text string) ([]byte, error) {
	envelope, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace([]byte(text))))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDecode, err)
	}
	return envelope, nil
}

func encryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	buf := make([]byte, 0, DigestSize+len(plaintext)+aes.BlockSize)
	buf = append(buf, Digest(plaintext)...)
	buf = append(buf, plaintext...)
	buf = pad(buf, aes.BlockSize)

	ciphertext := make([]byte, len(buf))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, buf)
	wipeBytes(buf)
	return ciphertext, nil
}

func decryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not a whole number of blocks", interfaces.ErrDecode)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	buf := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(buf, ciphertext)

	unpadded, ok := unpad(buf, aes.BlockSize)
	if !ok || len(unpadded) < DigestSize {
		wipeBytes(buf)
		return nil, fmt.Errorf("%w: bad padding", interfaces.ErrIntegrity)
	}

	digest, plaintext := unpadded[:DigestSize], unpadded[DigestSize:]
	if subtle.ConstantTimeCompare(digest, Digest(plaintext)) != 1 {
		wipeBytes(buf)
		return nil, fmt.Errorf("%w: digest mismatch", interfaces.ErrIntegrity)
	}

	out := make([]byte, len(plaintext))
	copy(out, plaintext)
	wipeBytes(buf)
	return out, nil
}

// pad applies PKCS#7 padding.
func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}

// wipeBytes zeroes sensitive buffers.
func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// WipeBytes zeroes a buffer holding key material.
func WipeBytes(data []byte) {
	wipeBytes(data)
}
