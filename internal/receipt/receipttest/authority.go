// Package receipttest builds signed receipts with throwaway certificate
// chains for tests.
package receipttest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/cashier-receipts/internal/receipt"
)

const BundleID = "com.example.cashier"

// Authority is a root -> intermediate -> leaf chain that signs receipts.
type Authority struct {
	Name string

	root, intermediate, leaf *x509.Certificate
	leafKey                  *ecdsa.PrivateKey
}

func NewAuthority(t testing.TB, name string) *Authority {
	t.Helper()
	root, rootKey := newCert(t, name+" Root CA", 1, nil, nil, true)
	inter, interKey := newCert(t, name+" Intermediate CA", 2, root, rootKey, true)
	leaf, leafKey := newCert(t, name+" Receipt Signing", 3, inter, interKey, false)
	return &Authority{Name: name, root: root, intermediate: inter, leaf: leaf, leafKey: leafKey}
}

func newCert(t testing.TB, cn string, serial int64, parent *x509.Certificate, parentKey *ecdsa.PrivateKey, isCA bool) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"cashier tests"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  isCA,
	}
	if isCA {
		tmpl.KeyUsage |= x509.KeyUsageCertSign
	}
	if parent == nil {
		parent, parentKey = tmpl, key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, parentKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

// RootPEM returns the trust anchor in PEM form, as it would appear in config.
func (a *Authority) RootPEM() string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.root.Raw}))
}

func (a *Authority) RootPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(a.root)
	return pool
}

// Sign serializes payload and signs it as a JWS with the x5c chain.
func (a *Authority) Sign(t testing.TB, payload any) string {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	claims := jwt.MapClaims{}
	require.NoError(t, json.Unmarshal(raw, &claims))

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["x5c"] = []string{
		base64.StdEncoding.EncodeToString(a.leaf.Raw),
		base64.StdEncoding.EncodeToString(a.intermediate.Raw),
		base64.StdEncoding.EncodeToString(a.root.Raw),
	}
	signed, err := token.SignedString(a.leafKey)
	require.NoError(t, err)
	return signed
}

// Txn describes one transaction of a test receipt.
type Txn struct {
	ID           string
	OriginalID   string
	ProductID    string
	PurchaseDate time.Time
	ExpiresDate  *time.Time
	Trial        bool
	RevokedAt    *time.Time
}

// Payload builds a version 1 signed receipt payload.
func Payload(env receipt.Environment, txns ...Txn) *receipt.SignedPayload {
	version := receipt.SignedPayloadVersion
	p := &receipt.SignedPayload{
		Version:             &version,
		BundleID:            BundleID,
		Environment:         appleEnvironment(env),
		ReceiptCreationDate: time.Now().UnixMilli(),
	}
	for _, tx := range txns {
		st := receipt.SignedTransaction{
			TransactionID:         tx.ID,
			OriginalTransactionID: tx.OriginalID,
			ProductID:             tx.ProductID,
			PurchaseDate:          tx.PurchaseDate.UnixMilli(),
			IsTrialPeriod:         tx.Trial,
		}
		if tx.ExpiresDate != nil {
			ms := tx.ExpiresDate.UnixMilli()
			st.ExpiresDate = &ms
		}
		if tx.RevokedAt != nil {
			ms := tx.RevokedAt.UnixMilli()
			reason := 0
			st.RevocationDate = &ms
			st.RevocationReason = &reason
		}
		p.Transactions = append(p.Transactions, st)
	}
	return p
}

// Blob signs payload and returns it base64 encoded as a client would upload it.
func (a *Authority) Blob(t testing.TB, payload any) string {
	return base64.StdEncoding.EncodeToString([]byte(a.Sign(t, payload)))
}

func appleEnvironment(env receipt.Environment) string {
	if env == receipt.EnvironmentSandbox {
		return "Sandbox"
	}
	return "Production"
}

// At truncates t to millisecond precision, the resolution receipts carry.
func At(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}

// Ptr returns a pointer to a millisecond-truncated copy of t.
func Ptr(t time.Time) *time.Time {
	v := At(t)
	return &v
}
