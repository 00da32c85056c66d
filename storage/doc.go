// Package storage provides the shared artifact store with pluggable backends.
//
// Artifacts are addressed by (folder, name). Folder names come from the
// keymaster directory (a party id, or two party ids joined by a comma) and
// names encode the key name, discriminator and artifact kind. The store is
// the only channel between parties: the presence of a file is the signal
// that the next protocol step can run, so every backend writes atomically.
//
//   - File system storage, usually a directory synced between parties
//   - S3-compatible storage
//   - Vault KV v2 storage
//   - In-memory storage for tests and single-process runs
//   - ReplicatedStore, which mirrors artifacts over several of the above
//
// # Storage URI Format
//
// Storage backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///keybase/private
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/prefix/?region=us-west-2&endpoint=minio:9000
//   - vault://[TOKEN@]vault.example.com:8200/secret/keymaster?tls=false
//
// A bare path is treated as a file location.
//
// # File Backend
//
// Writes go to a temporary file in the target directory which is synced,
// restricted to mode 0600 and renamed into place. Deletes overwrite the file
// with zeros before unlinking it, so a removed raw shard does not linger in
// the file's old blocks on simple file systems.
package storage
