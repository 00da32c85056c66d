// Package kms holds the live key material of a keymaster process.
//
// A KMS starts sealed. It becomes unsealed once a verified shared secret is
// installed, either by splitting a fresh one or by completing the unseal
// handshake with a quorum of keymasters. The secret never leaves process
// memory in the clear.
//
// # Shared Secret
//
// The secret is 32 random bytes. Before splitting it is framed as
// SHA1(secret)||secret so that reconstruction can tell a correct quorum from
// a wrong one:
//
//	secret, _ := kms.NewSecret()
//	shares, _ := kms.SplitSecret(secret, 5, 3)
//	...
//	recovered, err := kms.CombineSecret(shares[:3])
//
// Combining shares from the wrong split, or too few of them, yields a frame
// whose digest does not match and fails with ErrReconstructionFailed.
//
// # Sealed Keypairs
//
// Generate creates an RSA keypair, seals the PKCS#1 private key under the
// secret and writes {keyname}.key together with {keyname}.pem to every
// distinct custodian folder. It refuses while any custodian still has a raw
// shard waiting in a shared folder. Load reverses this for a process that
// holds the same secret.
//
// # PKI
//
// Registered keypairs back RSA-OAEP encryption, self-signed certificates and
// CSR signing:
//
//	k.SelfSign("signer", subject, 10, time.Now())
//	k.SignCSR("signer", csrPEM, caPEM, time.Now())
package kms
