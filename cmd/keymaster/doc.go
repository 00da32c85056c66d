// Package main (cmd/keymaster) is the keymaster console. Each keymaster runs
// it against the same shared storage and holds one password-protected shard
// of a key's secret. The secret never exists in one place at rest: a quorum
// of keymasters has to cooperate to bring it back into memory.
//
// Without arguments it starts an interactive shell. With arguments the rest
// of the command line is executed as a single shell command, which is enough
// for the steps a keymaster runs on their own:
//
//	keymaster --me alice --keyname signer accept bob
//	keymaster --me alice --keyname signer approve bob
//
// A typical lifecycle:
//
//  1. One keymaster runs 'shard <n> <t> <keymasters>' and the others 'accept' their shard
//  2. An initiator runs 'unseal <keymasters>' and enters a one-time passphrase
//  3. Each approver runs 'approve <initiator>' with that passphrase and their shard password
//  4. The initiator runs 'unseal' again to recombine the secret
//
// Once unsealed, 'generate' creates a keypair sealed under the secret and
// 'pki ...' uses it. Settings come from flags, KEYMASTER_* environment
// variables, a .env file and an optional YAML file given by --config.
package main
