package kms

import (
	"crypto/rsa"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/ruteri/sealed-keymaster/cryptoutils"
	"github.com/ruteri/sealed-keymaster/interfaces"
)

// KMS is the process-wide registry of live key material: the unsealed shared
// secret and every keypair loaded or generated under it. Both live only in
// memory.
type KMS struct {
	mu       sync.RWMutex
	secret   []byte                     // The reconstructed secret, stored only in memory
	keypairs map[string]*rsa.PrivateKey // Loaded keypairs by name

	rsaBits int
	console io.Writer
	log     *slog.Logger
}

// Config contains configuration parameters for creating a KMS instance.
type Config struct {
	// RSABits is the modulus size for generated keypairs. Zero selects the default.
	RSABits int
	// Console receives sealed material that could not be persisted.
	Console io.Writer
}

// NewKMS creates a sealed KMS with no keypairs.
func NewKMS(log *slog.Logger, config Config) *KMS {
	if config.RSABits == 0 {
		config.RSABits = cryptoutils.DefaultRSABits
	}
	if config.Console == nil {
		config.Console = io.Discard
	}
	return &KMS{
		keypairs: make(map[string]*rsa.PrivateKey),
		rsaBits:  config.RSABits,
		console:  config.Console,
		log:      log,
	}
}

// Unseal installs a verified secret. The KMS keeps its own copy.
func (k *KMS) Unseal(secret []byte) error {
	if len(secret) != SecretSize {
		return fmt.Errorf("%w: secret must be %d bytes, got %d", interfaces.ErrInvalidArgument, SecretSize, len(secret))
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	wipeBytes(k.secret)
	k.secret = make([]byte, SecretSize)
	copy(k.secret, secret)
	k.log.Info("shared secret unsealed")
	return nil
}

// IsUnsealed returns whether a secret is held.
func (k *KMS) IsUnsealed() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.secret != nil
}

// Lock wipes the secret and forgets every loaded keypair.
func (k *KMS) Lock() {
	k.mu.Lock()
	defer k.mu.Unlock()

	wipeBytes(k.secret)
	k.secret = nil
	k.keypairs = make(map[string]*rsa.PrivateKey)
}

// Encrypt seals content under the shared secret and returns the base64 envelope.
func (k *KMS) Encrypt(content []byte) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.secret == nil {
		return "", interfaces.ErrNotUnsealed
	}

	envelope, err := cryptoutils.Seal(k.secret, content)
	if err != nil {
		return "", err
	}
	return cryptoutils.EncodeEnvelope(envelope), nil
}

// Decrypt opens a base64 envelope produced by Encrypt.
func (k *KMS) Decrypt(text string) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.secret == nil {
		return nil, interfaces.ErrNotUnsealed
	}

	envelope, err := cryptoutils.DecodeEnvelope(text)
	if err != nil {
		return nil, err
	}
	return cryptoutils.Open(k.secret, envelope)
}

// Register makes a keypair available under name, replacing any previous one.
func (k *KMS) Register(name string, key *rsa.PrivateKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keypairs[name] = key
}

// Keypair returns the registered keypair, or ErrKeypairNotLoaded.
func (k *KMS) Keypair(name string) (*rsa.PrivateKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	key, ok := k.keypairs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrKeypairNotLoaded, name)
	}
	return key, nil
}

// Keypairs returns the names of all registered keypairs, sorted.
func (k *KMS) Keypairs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	names := make([]string, 0, len(k.keypairs))
	for name := range k.keypairs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// withSecret runs fn with the secret held under the read lock.
func (k *KMS) withSecret(fn func(secret []byte) error) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.secret == nil {
		return interfaces.ErrNotUnsealed
	}
	return fn(k.secret)
}
