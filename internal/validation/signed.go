package validation

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatflowers/cashier-receipts/internal/platform/apple/apple_jws"
	"github.com/fatflowers/cashier-receipts/internal/receipt"
)

type SignedPayloadOptions struct {
	// BundleID, when set, must match the payload's bundleId.
	BundleID string
	// ProductionRootsPEM and SandboxRootsPEM default to the Apple Root CA G3.
	ProductionRootsPEM string
	SandboxRootsPEM    string
	Now                func() time.Time
}

// SignedPayloadVerifier verifies JWS receipts locally against per-environment
// trust anchors.
type SignedPayloadVerifier struct {
	roots    map[receipt.Environment]*x509.CertPool
	bundleID string
	now      func() time.Time
}

func NewSignedPayloadVerifier(opts SignedPayloadOptions) (*SignedPayloadVerifier, error) {
	prod, err := apple_jws.NewRootPool(opts.ProductionRootsPEM)
	if err != nil {
		return nil, fmt.Errorf("production roots: %w", err)
	}
	sandbox, err := apple_jws.NewRootPool(opts.SandboxRootsPEM)
	if err != nil {
		return nil, fmt.Errorf("sandbox roots: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &SignedPayloadVerifier{
		roots: map[receipt.Environment]*x509.CertPool{
			receipt.EnvironmentProduction: prod,
			receipt.EnvironmentSandbox:    sandbox,
		},
		bundleID: opts.BundleID,
		now:      now,
	}, nil
}

type signedClaims struct {
	BundleID    string `json:"bundleId"`
	Environment string `json:"environment"`
}

func (v *SignedPayloadVerifier) Validate(_ context.Context, env *receipt.Envelope, claimed receipt.Environment) (*receipt.Verified, error) {
	at := v.now()
	if err := v.verifyAt(env, claimed, at); err != nil {
		return nil, err
	}

	var claims signedClaims
	if err := json.Unmarshal(env.Payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", receipt.ErrMalformedReceipt, err)
	}
	if claims.Environment != "" {
		payloadEnv, err := receipt.ParseEnvironment(claims.Environment)
		if err != nil || payloadEnv != claimed {
			return nil, fmt.Errorf("%w: receipt issued for %q", receipt.ErrEnvironmentMismatch, claims.Environment)
		}
	}
	if err := v.CheckBundleID(claims.BundleID); err != nil {
		return nil, err
	}

	return receipt.MarkVerified(receipt.FormatSignedPayload, claimed, env.Payload, at), nil
}

// VerifySigned checks the x5c chain and the signature of a signed payload
// against the trust anchor of claimed. The payload is not interpreted.
func (v *SignedPayloadVerifier) VerifySigned(env *receipt.Envelope, claimed receipt.Environment) error {
	return v.verifyAt(env, claimed, v.now())
}

// CheckBundleID rejects payloads issued for another app.
func (v *SignedPayloadVerifier) CheckBundleID(bundleID string) error {
	if v.bundleID != "" && bundleID != v.bundleID {
		return fmt.Errorf("%w: bundle id %q", receipt.ErrSignatureInvalid, bundleID)
	}
	return nil
}

func (v *SignedPayloadVerifier) verifyAt(env *receipt.Envelope, claimed receipt.Environment, at time.Time) error {
	if env == nil || env.Format != receipt.FormatSignedPayload || env.Header == nil {
		return fmt.Errorf("%w: not a signed payload", receipt.ErrUnsupportedFormat)
	}
	if !claimed.Valid() {
		return fmt.Errorf("%w: unknown claimed environment %q", receipt.ErrEnvironmentMismatch, claimed)
	}

	chain, err := apple_jws.ParseChain(env.Header.X5c)
	if err != nil {
		return fmt.Errorf("%w: %v", receipt.ErrSignatureInvalid, err)
	}
	if err := chain.VerifyAgainst(v.roots[claimed], at); err != nil {
		if chain.VerifyAgainst(v.roots[claimed.Other()], at) == nil {
			return fmt.Errorf("%w: chain is anchored in %s", receipt.ErrEnvironmentMismatch, claimed.Other())
		}
		return fmt.Errorf("%w: %v", receipt.ErrSignatureInvalid, err)
	}
	key, err := chain.PublicKey()
	if err != nil {
		return fmt.Errorf("%w: %v", receipt.ErrSignatureInvalid, err)
	}
	if err := apple_jws.VerifySignature(string(env.Raw), key); err != nil {
		return fmt.Errorf("%w: %v", receipt.ErrSignatureInvalid, err)
	}
	return nil
}
