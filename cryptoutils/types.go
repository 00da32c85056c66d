package cryptoutils

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/ruteri/sealed-keymaster/interfaces"
)

const (
	pemCSR     = "CERTIFICATE REQUEST"
	pemCert    = "CERTIFICATE"
	pemPubkey  = "PUBLIC KEY"
	pemPrivkey = "RSA PRIVATE KEY"
)

// decodePEM returns the DER body of the first block, which must be of
// blockType. Failures wrap ErrDecode.
func decodePEM(data []byte, blockType string) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", interfaces.ErrDecode)
	}
	if block.Type != blockType {
		return nil, fmt.Errorf("%w: PEM block is %q, want %q", interfaces.ErrDecode, block.Type, blockType)
	}
	return block.Bytes, nil
}

// CSR is a PEM certificate signing request.
type CSR []byte

// NewCSR accepts only well-formed requests whose self-signature verifies.
// Anything else is ErrInvalidCSR.
func NewCSR(data []byte) (CSR, error) {
	req, err := CSR(data).GetX509CSR()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidCSR, err)
	}
	if err := req.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: bad signature: %v", interfaces.ErrInvalidCSR, err)
	}
	return CSR(data), nil
}

func (csr CSR) GetX509CSR() (*x509.CertificateRequest, error) {
	der, err := decodePEM(csr, pemCSR)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificateRequest(der)
}

// Cert is a PEM X.509 certificate.
type Cert []byte

func NewCert(data []byte) (Cert, error) {
	if _, err := Cert(data).GetX509Cert(); err != nil {
		return nil, err
	}
	return Cert(data), nil
}

func CertFromDER(der []byte) Cert {
	return Cert(pem.EncodeToMemory(&pem.Block{Type: pemCert, Bytes: der}))
}

func (cert Cert) GetX509Cert() (*x509.Certificate, error) {
	der, err := decodePEM(cert, pemCert)
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDecode, err)
	}
	return parsed, nil
}

// VerifyIssuedBy checks that cert chains to ca.
func (cert Cert) VerifyIssuedBy(ca Cert) error {
	root, err := ca.GetX509Cert()
	if err != nil {
		return err
	}
	leaf, err := cert.GetX509Cert()
	if err != nil {
		return err
	}

	roots := x509.NewCertPool()
	roots.AddCert(root)
	_, err = leaf.Verify(x509.VerifyOptions{Roots: roots, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny}})
	return err
}

// RSAPubkey is a PKIX PEM public key.
type RSAPubkey []byte

func NewRSAPubkey(data []byte) (RSAPubkey, error) {
	if _, err := RSAPubkey(data).GetPublicKey(); err != nil {
		return nil, err
	}
	return RSAPubkey(data), nil
}

func (pub RSAPubkey) GetPublicKey() (*rsa.PublicKey, error) {
	der, err := decodePEM(pub, pemPubkey)
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDecode, err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not an RSA key", interfaces.ErrDecode, parsed)
	}
	return key, nil
}

// RSAPrivkey is a PKCS#1 PEM private key.
type RSAPrivkey []byte

func NewRSAPrivkey(data []byte) (RSAPrivkey, error) {
	if _, err := RSAPrivkey(data).GetPrivateKey(); err != nil {
		return nil, err
	}
	return RSAPrivkey(data), nil
}

func (priv RSAPrivkey) GetPrivateKey() (*rsa.PrivateKey, error) {
	der, err := decodePEM(priv, pemPrivkey)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDecode, err)
	}
	return key, nil
}
