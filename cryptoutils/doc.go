// Package cryptoutils provides the cryptographic primitives used wherever key
// material touches storage or transit.
//
// # Envelopes
//
// Every secret at rest is wrapped in a versioned envelope. The plaintext is
// prefixed with its SHA-1 digest before AES-256-CBC encryption, and Open
// refuses to return anything whose recomputed digest does not match.
//
//	v1: [0x01][iv (16 bytes)][AES-256-CBC(SHA1(pt) || pt)]             key envelope
//	v2: [0x02][salt (16 bytes)][iv (16 bytes)][AES-256-CBC(...)]       password envelope
//
// Password envelopes derive their key with Argon2id over a random salt. The
// text interchange form of either envelope is standard base64.
//
// # PKI
//
// RSA keypairs are stored as PKCS#1 (private) and PKIX (public) PEM. Issued
// certificates, self-signed or from a CSR, carry one fixed extension set:
// CA basic constraints, broad key usage and extended key usage bits, and the
// legacy Netscape certificate type extension.
package cryptoutils
