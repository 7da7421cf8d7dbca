package receipt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Format identifies the container a receipt was delivered in.
type Format string

const (
	// FormatSignedPayload is a JWS compact serialization signed with an x5c chain.
	FormatSignedPayload Format = "signed_payload"
	// FormatAppStoreReceipt is a legacy PKCS#7 receipt that only the verifyReceipt endpoint can open.
	FormatAppStoreReceipt Format = "app_store_receipt"
)

const signedPayloadAlg = "ES256"

type Header struct {
	Alg string   `json:"alg"`
	Kid string   `json:"kid,omitempty"`
	X5c []string `json:"x5c"`
}

// Envelope is a parsed but not yet verified receipt.
type Envelope struct {
	Format Format
	// Raw is the receipt exactly as submitted, after transport decoding.
	Raw []byte
	// Header and Payload are set for FormatSignedPayload only. Payload is untrusted.
	Header  *Header
	Payload []byte
}

// DecodeBlob undoes the transport encoding of a submitted receipt. Signed
// payloads may be sent as-is; everything else must be standard base64.
func DecodeBlob(blob string) ([]byte, error) {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, blob)
	if compact == "" {
		return nil, fmt.Errorf("%w: empty receipt", ErrMalformedReceipt)
	}
	if strings.Count(compact, ".") == 2 {
		return []byte(compact), nil
	}
	raw, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		if raw, err = base64.RawStdEncoding.DecodeString(compact); err != nil {
			return nil, fmt.Errorf("%w: receipt is not base64: %v", ErrMalformedReceipt, err)
		}
	}
	return raw, nil
}

// Parse detects the receipt container and, for signed payloads, splits it
// into header and payload without verifying anything.
func Parse(raw []byte) (*Envelope, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty receipt", ErrMalformedReceipt)
	}
	// DER SEQUENCE tag of a PKCS#7 ContentInfo
	if raw[0] == 0x30 {
		if len(raw) < 16 {
			return nil, fmt.Errorf("%w: truncated app store receipt", ErrMalformedReceipt)
		}
		return &Envelope{Format: FormatAppStoreReceipt, Raw: raw}, nil
	}
	if bytes.Count(raw, []byte(".")) == 2 {
		return parseSignedPayload(raw)
	}
	return nil, fmt.Errorf("%w: unrecognized receipt container", ErrMalformedReceipt)
}

func parseSignedPayload(raw []byte) (*Envelope, error) {
	parts := strings.Split(string(raw), ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: empty signed payload segment", ErrMalformedReceipt)
		}
	}

	headerBytes, err := decodeSegment(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedReceipt, err)
	}
	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedReceipt, err)
	}
	if header.Alg == "" {
		return nil, fmt.Errorf("%w: header has no alg", ErrMalformedReceipt)
	}
	if header.Alg != signedPayloadAlg {
		return nil, fmt.Errorf("%w: signing algorithm %s", ErrUnsupportedFormat, header.Alg)
	}
	if len(header.X5c) == 0 {
		return nil, fmt.Errorf("%w: header has no certificate chain", ErrMalformedReceipt)
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedReceipt, err)
	}
	if trimmed := bytes.TrimSpace(payload); len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedReceipt)
	}
	if _, err := decodeSegment(parts[2]); err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrMalformedReceipt, err)
	}

	return &Envelope{Format: FormatSignedPayload, Raw: raw, Header: &header, Payload: payload}, nil
}

func decodeSegment(seg string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(seg, "="))
}
