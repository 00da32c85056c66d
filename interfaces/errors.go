package interfaces

import "errors"

var (
	// ErrConfig is returned when required identity or configuration is missing
	// or malformed. Operations abort before any crypto or I/O runs.
	ErrConfig = errors.New("configuration error")

	// ErrNotFound is returned when an expected artifact (shard, request,
	// response, key, CSR) is absent.
	ErrNotFound = errors.New("not found")

	// ErrIntegrity is returned when an envelope fails its digest check. It is
	// always fatal to the operation that produced it.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrDecode is returned for malformed share or envelope encodings.
	ErrDecode = errors.New("malformed encoding")

	// ErrUnsupportedVersion is returned when an envelope carries an unknown
	// or unexpected format version.
	ErrUnsupportedVersion = errors.New("unsupported envelope version")

	// ErrInsufficientShards is returned when fewer than two shards were
	// recovered for reconstruction.
	ErrInsufficientShards = errors.New("insufficient shards")

	// ErrReconstructionFailed is returned when the combined secret does not
	// pass its embedded digest check.
	ErrReconstructionFailed = errors.New("secret reconstruction failed")

	// ErrInvalidCSR is returned when a certificate signing request fails to
	// parse or to verify its own signature.
	ErrInvalidCSR = errors.New("invalid certificate signing request")

	// ErrKeypairNotLoaded is returned when a PKI operation names a keypair
	// that is not registered.
	ErrKeypairNotLoaded = errors.New("keypair not loaded")

	// ErrNotUnsealed is returned when an operation needs the live secret and
	// none is held.
	ErrNotUnsealed = errors.New("secret is not unsealed")

	// ErrWriteFailure is returned when persisting newly sealed material fails.
	// The sealed material has been echoed to the console before this is returned.
	ErrWriteFailure = errors.New("write failure")

	// ErrShardsNotAccepted is returned by keypair generation while any
	// custodian still has a raw shard in a shared folder.
	ErrShardsNotAccepted = errors.New("shards not accepted")

	// ErrSessionExists is returned when an unseal is initiated while another
	// session is still live.
	ErrSessionExists = errors.New("unseal session already in progress")

	// ErrNoSession is returned when completing or abandoning without a session.
	ErrNoSession = errors.New("no unseal session in progress")

	// ErrInvalidArgument is returned for malformed command arguments.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")

	// ErrInvalidArtifactPath is returned when a folder or filename would escape
	// the store root.
	ErrInvalidArtifactPath = errors.New("invalid artifact path")
)
