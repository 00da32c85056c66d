package cryptoutils

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// OIDNetscapeCertType is the legacy Netscape certificate type extension.
var OIDNetscapeCertType = asn1.ObjectIdentifier{2, 16, 840, 1, 113730, 1, 1}

// Netscape cert type bits, most significant bit first.
const (
	nsClient  = 0x80
	nsServer  = 0x40
	nsEmail   = 0x20
	nsObjSign = 0x10
	nsSSLCA   = 0x04
	nsEmailCA = 0x02
	nsObjCA   = 0x01
)

// Subject holds the distinguished name attributes used for issued certificates.
type Subject struct {
	CommonName         string
	Country            string
	State              string
	Locality           string
	Organization       string
	OrganizationalUnit string
}

// Name converts the subject to a pkix.Name, omitting empty attributes.
func (s Subject) Name() pkix.Name {
	name := pkix.Name{CommonName: s.CommonName}
	if s.Country != "" {
		name.Country = []string{s.Country}
	}
	if s.State != "" {
		name.Province = []string{s.State}
	}
	if s.Locality != "" {
		name.Locality = []string{s.Locality}
	}
	if s.Organization != "" {
		name.Organization = []string{s.Organization}
	}
	if s.OrganizationalUnit != "" {
		name.OrganizationalUnit = []string{s.OrganizationalUnit}
	}
	return name
}

func netscapeCertTypeExtension() (pkix.Extension, error) {
	value, err := asn1.Marshal(asn1.BitString{
		Bytes:     []byte{nsClient | nsServer | nsEmail | nsObjSign | nsSSLCA | nsEmailCA | nsObjCA},
		BitLength: 8,
	})
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode netscape cert type: %w", err)
	}
	return pkix.Extension{Id: OIDNetscapeCertType, Value: value}, nil
}

// certificateTemplate returns a template carrying the fixed extension set
// shared by self-signed and CSR-issued certificates.
func certificateTemplate(subject pkix.Name, notBefore, notAfter time.Time) (*x509.Certificate, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	nsCertType, err := netscapeCertTypeExtension()
	if err != nil {
		return nil, err
	}

	return &x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      subject,
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage: x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment |
			x509.KeyUsageKeyEncipherment | x509.KeyUsageDataEncipherment |
			x509.KeyUsageKeyAgreement | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
			x509.ExtKeyUsageCodeSigning,
			x509.ExtKeyUsageEmailProtection,
			x509.ExtKeyUsageTimeStamping,
		},
		BasicConstraintsValid: true,
		IsCA:                  true,
		ExtraExtensions:       []pkix.Extension{nsCertType},
	}, nil
}

// SelfSigned issues a certificate over key's public half with subject ==
// issuer and validity [now, now+years].
func SelfSigned(key *rsa.PrivateKey, subject pkix.Name, now time.Time, years int) (Cert, error) {
	if years < 1 {
		return nil, fmt.Errorf("validity must be at least one year, got %d", years)
	}

	template, err := certificateTemplate(subject, now, now.AddDate(years, 0, 0))
	if err != nil {
		return nil, err
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	return CertFromDER(certDER), nil
}

// IssueFromCSR issues a one-year certificate over the CSR's subject and public
// key, signed by key. The issuer is ca when given, otherwise the CSR subject.
// The CSR must already be verified (see NewCSR).
func IssueFromCSR(key *rsa.PrivateKey, req *x509.CertificateRequest, ca *x509.Certificate, now time.Time) (Cert, error) {
	template, err := certificateTemplate(req.Subject, now, now.AddDate(1, 0, 0))
	if err != nil {
		return nil, err
	}
	template.DNSNames = req.DNSNames
	template.IPAddresses = req.IPAddresses
	template.EmailAddresses = req.EmailAddresses

	parent := template
	if ca != nil {
		if !key.PublicKey.Equal(ca.PublicKey) {
			return nil, errors.New("CA certificate public key does not match the signing keypair")
		}
		parent = ca
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, parent, req.PublicKey, crypto.Signer(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	return CertFromDER(certDER), nil
}
