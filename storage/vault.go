package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/sealed-keymaster/interfaces"
)

const vaultContentKey = "content"

// VaultBackend keeps each artifact as a KV v2 secret at
// {mount}/{base}/{folder}/{name}. The content is base64 under "content".
type VaultBackend struct {
	kv    *api.KVv2
	sys   *api.Sys
	mount string
	base  string
	uri   string
	log   *slog.Logger
}

// NewVaultBackend connects to the KV v2 engine mounted at mount. An empty
// address or token falls back to VAULT_ADDR and VAULT_TOKEN.
func NewVaultBackend(address, token, mount, base string, log *slog.Logger) (*VaultBackend, error) {
	cfg := api.DefaultConfig()
	if cfg.Error != nil {
		return nil, fmt.Errorf("failed to read Vault environment: %w", cfg.Error)
	}
	if address != "" {
		cfg.Address = address
	}
	cfg.Timeout = 30 * time.Second

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mount = strings.Trim(mount, "/")
	base = strings.Trim(base, "/")

	host := cfg.Address
	if u, err := url.Parse(cfg.Address); err == nil && u.Host != "" {
		host = u.Host
	}

	return &VaultBackend{
		kv:    client.KVv2(mount),
		sys:   client.Sys(),
		mount: mount,
		base:  base,
		uri:   "vault://" + path.Join(host, mount, base),
		log:   log.With("backend", "vault", "mount", mount),
	}, nil
}

func (b *VaultBackend) secretPath(folder, name string) (string, error) {
	for _, segment := range []string{folder, name} {
		if err := validateSegment(segment); err != nil {
			return "", err
		}
	}
	return path.Join(b.base, folder, name), nil
}

func (b *VaultBackend) Exists(ctx context.Context, folder, name string) (bool, error) {
	_, err := b.Read(ctx, folder, name)
	if errors.Is(err, interfaces.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Read returns ErrNotFound when the secret is missing or its current
// version was deleted.
func (b *VaultBackend) Read(ctx context.Context, folder, name string) ([]byte, error) {
	p, err := b.secretPath(folder, name)
	if err != nil {
		return nil, err
	}

	secret, err := b.kv.Get(ctx, p)
	if errors.Is(err, api.ErrSecretNotFound) || (err == nil && (secret == nil || secret.Data == nil)) {
		return nil, fmt.Errorf("%w: %s/%s", interfaces.ErrNotFound, folder, name)
	}
	if err != nil {
		b.log.Error("Vault read failed", "path", p, "err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	encoded, ok := secret.Data[vaultContentKey].(string)
	if !ok {
		return nil, fmt.Errorf("%w: secret %s has no %q field", interfaces.ErrDecode, p, vaultContentKey)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: secret %s: %v", interfaces.ErrDecode, p, err)
	}
	return data, nil
}

// Write stores a new version of the secret.
func (b *VaultBackend) Write(ctx context.Context, folder, name string, data []byte) error {
	p, err := b.secretPath(folder, name)
	if err != nil {
		return err
	}

	_, err = b.kv.Put(ctx, p, map[string]interface{}{
		vaultContentKey: base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		b.log.Error("Vault write failed", "path", p, "err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("artifact written", "path", p, "size", len(data))
	return nil
}

// Delete destroys all versions along with the metadata, so nothing of a
// consumed request or response can be recovered from Vault.
func (b *VaultBackend) Delete(ctx context.Context, folder, name string) error {
	p, err := b.secretPath(folder, name)
	if err != nil {
		return err
	}
	if err := b.kv.DeleteMetadata(ctx, p); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	b.log.Debug("artifact destroyed", "path", p)
	return nil
}

// Available is true when Vault is initialized and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.sys.HealthWithContext(ctx)
	switch {
	case err != nil:
		b.log.Debug("Vault health check failed", "err", err)
		return false
	case !health.Initialized || health.Sealed:
		b.log.Debug("Vault not ready", "initialized", health.Initialized, "sealed", health.Sealed)
		return false
	}
	return true
}

func (b *VaultBackend) Name() string {
	return "vault-" + b.mount + "-" + b.base
}

func (b *VaultBackend) LocationURI() string {
	return b.uri
}
