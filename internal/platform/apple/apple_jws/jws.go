package apple_jws

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

// AppleRootCAG3PEM anchors every JWS Apple signs for the App Store.
const AppleRootCAG3PEM = `-----BEGIN CERTIFICATE-----
MIICQzCCAcmgAwIBAgIILcX8iNLFS5UwCgYIKoZIzj0EAwMwZzEbMBkGA1UEAwwS
QXBwbGUgUm9vdCBDQSAtIEczMSYwJAYDVQQLDB1BcHBsZSBDZXJ0aWZpY2F0aW9u
IEF1dGhvcml0eTETMBEGA1UECgwKQXBwbGUgSW5jLjELMAkGA1UEBhMCVVMwHhcN
MTQwNDMwMTgxOTA2WhcNMzkwNDMwMTgxOTA2WjBnMRswGQYDVQQDDBJBcHBsZSBS
b290IENBIC0gRzMxJjAkBgNVBAsMHUFwcGxlIENlcnRpZmljYXRpb24gQXV0aG9y
aXR5MRMwEQYDVQQKDApBcHBsZSBJbmMuMQswCQYDVQQGEwJVUzB2MBAGByqGSM49
AgEGBSuBBAAiA2IABJjpLz1AcqTtkyJygRMc3RCV8cWjTnHcFBbZDuWmBSp3ZHtf
TjjTuxxEtX/1H7YyYl3J6YRbTzBPEVoA/VhYDKX1DyxNB0cTddqXl5dvMVztK517
IDvYuVTZXpmkOlEKMaNCMEAwHQYDVR0OBBYEFLuw3qFYM4iapIqZ3r6966/ayySr
MA8GA1UdEwEB/wQFMAMBAf8wDgYDVR0PAQH/BAQDAgEGMAoGCCqGSM49BAMDA2gA
MGUCMQCD6cHEFl4aXTQY2e3v9GwOAEZLuN+yRhHFD/3meoyhpmvOwgPUnPWTxnS4
at+qIxUCMG1mihDK1A3UT82NQz60imOlM27jbdoXt2QfyFMm+YhidDkLF1vLUagM
6BgD56KyKA==
-----END CERTIFICATE-----`

var (
	ErrChainUntrusted = errors.New("x5c chain does not verify against trusted roots")
	ErrBadSignature   = errors.New("jws signature does not verify")
)

// NewRootPool parses PEM encoded trust anchors. An empty input yields a pool
// holding only the Apple Root CA G3.
func NewRootPool(pemData string) (*x509.CertPool, error) {
	if pemData == "" {
		pemData = AppleRootCAG3PEM
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM([]byte(pemData)) {
		return nil, errors.New("root certificate couldn't be parsed")
	}
	return roots, nil
}

// Chain is the decoded x5c header: leaf first, then intermediates.
type Chain struct {
	Leaf          *x509.Certificate
	Intermediates *x509.CertPool
}

func ParseChain(x5c []string) (*Chain, error) {
	if len(x5c) == 0 {
		return nil, errors.New("x5c header is empty")
	}
	certs := make([]*x509.Certificate, 0, len(x5c))
	for i, enc := range x5c {
		der, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("x5c[%d] is not base64: %w", i, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("x5c[%d] couldn't be parsed: %w", i, err)
		}
		certs = append(certs, cert)
	}
	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}
	return &Chain{Leaf: certs[0], Intermediates: intermediates}, nil
}

// VerifyAgainst checks that the leaf chains up to one of roots at time at.
func (c *Chain) VerifyAgainst(roots *x509.CertPool, at time.Time) error {
	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: c.Intermediates,
		CurrentTime:   at,
		// Apple's leaf certificates carry a private extended key usage
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := c.Leaf.Verify(opts); err != nil {
		return fmt.Errorf("%w: %v", ErrChainUntrusted, err)
	}
	return nil
}

func (c *Chain) PublicKey() (*ecdsa.PublicKey, error) {
	switch pk := c.Leaf.PublicKey.(type) {
	case *ecdsa.PublicKey:
		return pk, nil
	default:
		return nil, errors.New("appstore public key must be of type ecdsa.PublicKey")
	}
}

// VerifySignature checks the ES256 signature of a compact JWS with key.
// Claims are not validated; payload semantics belong to the caller.
func VerifySignature(token string, key *ecdsa.PublicKey) error {
	parser := &jwt.Parser{
		ValidMethods:         []string{jwt.SigningMethodES256.Alg()},
		UseJSONNumber:        true,
		SkipClaimsValidation: true,
	}
	_, err := parser.ParseWithClaims(token, jwt.MapClaims{}, func(*jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}
