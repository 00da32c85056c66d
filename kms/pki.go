package kms

import (
	"crypto/x509/pkix"
	"fmt"
	"time"

	"github.com/ruteri/sealed-keymaster/cryptoutils"
)

// PKIEncrypt encrypts data to the public half of a registered keypair.
func (k *KMS) PKIEncrypt(keyname string, data []byte) ([]byte, error) {
	key, err := k.Keypair(keyname)
	if err != nil {
		return nil, err
	}
	return cryptoutils.EncryptOAEP(&key.PublicKey, data)
}

// PKIDecrypt decrypts data with the private half of a registered keypair.
func (k *KMS) PKIDecrypt(keyname string, ciphertext []byte) ([]byte, error) {
	key, err := k.Keypair(keyname)
	if err != nil {
		return nil, err
	}
	return cryptoutils.DecryptOAEP(key, ciphertext)
}

// SelfSign issues a self-signed certificate over a registered keypair, valid
// for validityYears starting at now.
func (k *KMS) SelfSign(keyname string, subject pkix.Name, validityYears int, now time.Time) (cryptoutils.Cert, error) {
	key, err := k.Keypair(keyname)
	if err != nil {
		return nil, err
	}
	return cryptoutils.SelfSigned(key, subject, now, validityYears)
}

// SignCSR verifies csrPEM and issues a one-year certificate for it signed by
// a registered keypair. caPEM, when not empty, names the issuer and must
// carry the keypair's public key.
func (k *KMS) SignCSR(keyname string, csrPEM, caPEM []byte, now time.Time) (cryptoutils.Cert, error) {
	key, err := k.Keypair(keyname)
	if err != nil {
		return nil, err
	}

	csr, err := cryptoutils.NewCSR(csrPEM)
	if err != nil {
		return nil, err
	}

	req, err := csr.GetX509CSR()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSR: %w", err)
	}

	if len(caPEM) == 0 {
		return cryptoutils.IssueFromCSR(key, req, nil, now)
	}

	ca, err := cryptoutils.NewCert(caPEM)
	if err != nil {
		return nil, fmt.Errorf("invalid CA certificate: %w", err)
	}
	caCert, err := ca.GetX509Cert()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}
	return cryptoutils.IssueFromCSR(key, req, caCert, now)
}
