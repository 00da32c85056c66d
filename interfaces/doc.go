// Package interfaces defines the core interfaces and types shared by the
// sealed keymaster packages, separating contracts from implementations.
//
// # Identity
//
// Identity is the immutable acting context (the current party id and the
// active key name). It is passed by value into every protocol operation
// instead of living in global configuration.
//
// # Storage Interfaces
//
// ArtifactStore: a hierarchical store addressed by (folder, filename) with
// exists/read/write/delete semantics. Folder names come from the keymaster
// directory, filenames encode the key name, the optional discriminator and
// the ArtifactKind. Writes must be atomic: the presence of a file is the
// synchronization signal between parties.
//
// # Interactive Input
//
// Prompter: masked-echo password/passphrase input. Every password is treated
// as an opaque string fed into key derivation.
//
// # Errors
//
// The error taxonomy (ErrConfig, ErrNotFound, ErrIntegrity,
// ErrInsufficientShards, ErrReconstructionFailed, ErrInvalidCSR,
// ErrKeypairNotLoaded, ErrNotUnsealed, ErrWriteFailure, ...) is defined as
// sentinel errors. Implementations wrap them with fmt.Errorf("...: %w") and
// callers classify failures with errors.Is.
package interfaces
