package interfaces

import "context"

// ArtifactKind identifies what an artifact file holds. It determines the
// filename extension.
type ArtifactKind int

const (
	// ShardArtifact is a raw or password-sealed shard.
	ShardArtifact ArtifactKind = iota
	// RequestArtifact is an unseal request (ephemeral key sealed under the passphrase).
	RequestArtifact
	// ResponseArtifact is an unseal response (shard sealed under the ephemeral key).
	ResponseArtifact
	// KeyArtifact is a sealed private key.
	KeyArtifact
	// PublicKeyArtifact is a plaintext public key PEM.
	PublicKeyArtifact
	// CertificateArtifact is a certificate PEM.
	CertificateArtifact
	// SessionArtifact is a persisted unseal session sealed under the passphrase.
	SessionArtifact
)

// Extension returns the filename extension (without dot) for the kind.
func (k ArtifactKind) Extension() string {
	switch k {
	case ShardArtifact:
		return "shard"
	case RequestArtifact:
		return "request"
	case ResponseArtifact:
		return "response"
	case KeyArtifact:
		return "key"
	case PublicKeyArtifact:
		return "pem"
	case CertificateArtifact:
		return "crt"
	case SessionArtifact:
		return "unseal"
	default:
		return "unknown"
	}
}

func (k ArtifactKind) String() string { return k.Extension() }

// ArtifactStore is the shared hierarchical store used by every party.
// Artifacts are addressed by (folder, name). Directory listing is not required.
type ArtifactStore interface {
	// Exists reports whether the artifact is present.
	Exists(ctx context.Context, folder, name string) (bool, error)

	// Read returns the artifact content, or an error wrapping ErrNotFound.
	Read(ctx context.Context, folder, name string) ([]byte, error)

	// Write replaces the artifact atomically: readers observe either the old
	// content, no content, or the complete new content.
	Write(ctx context.Context, folder, name string, data []byte) error

	// Delete removes the artifact. Deleting a missing artifact is not an error.
	Delete(ctx context.Context, folder, name string) error

	Available(ctx context.Context) bool
	Name() string
	LocationURI() string
}
