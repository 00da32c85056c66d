package cryptoutils

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/ruteri/sealed-keymaster/interfaces"
)

// DefaultRSABits is the modulus size used when none is configured.
const DefaultRSABits = 2048

// GenerateRSAKey generates a fresh RSA keypair with e = 65537.
func GenerateRSAKey(bits int) (*rsa.PrivateKey, error) {
	if bits == 0 {
		bits = DefaultRSABits
	}
	if bits < 2048 {
		return nil, fmt.Errorf("%w: RSA modulus must be at least 2048 bits, got %d", interfaces.ErrInvalidArgument, bits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return key, nil
}

// EncodeRSAPrivkey encodes key as a PKCS#1 PEM.
func EncodeRSAPrivkey(key *rsa.PrivateKey) RSAPrivkey {
	return pem.EncodeToMemory(&pem.Block{
		Type:  pemPrivkey,
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// EncodeRSAPubkey encodes key as a PKIX PEM.
func EncodeRSAPubkey(key *rsa.PublicKey) (RSAPubkey, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPubkey, Bytes: der}), nil
}

// EncryptOAEP encrypts data for the holder of key using RSA-OAEP with SHA-256.
func EncryptOAEP(key *rsa.PublicKey, data []byte) ([]byte, error) {
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, key, data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidArgument, err)
	}
	return ciphertext, nil
}

// DecryptOAEP reverses EncryptOAEP.
func DecryptOAEP(key *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrIntegrity, err)
	}
	return plaintext, nil
}
