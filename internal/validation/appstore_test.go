package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fatflowers/cashier-receipts/internal/platform/apple/apple_iap"
	"github.com/fatflowers/cashier-receipts/internal/receipt"
)

const okBody = `{"status":0,"environment":"%s","receipt":{"bundle_id":"com.example.cashier","in_app":[
	{"transaction_id":"t1","original_transaction_id":"t1","product_id":"pro","purchase_date_ms":"1735689600000","expires_date_ms":"1738368000000"}]}}`

// fakeAppStore answers verifyReceipt on /prod and /sandbox with canned bodies.
func fakeAppStore(t *testing.T, prod, sandbox func(w http.ResponseWriter)) *apple_iap.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req["receipt-data"])
		require.Equal(t, "secret", req["password"])
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/prod":
			prod(w)
		case "/sandbox":
			sandbox(w)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return apple_iap.NewClient(apple_iap.ClientOptions{
		SharedSecret:  "secret",
		ProductionURL: srv.URL + "/prod",
		SandboxURL:    srv.URL + "/sandbox",
	})
}

func body(s string, args ...any) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		if len(args) > 0 {
			s = fmt.Sprintf(s, args...)
		}
		_, _ = w.Write([]byte(s))
	}
}

func status(code int) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		_, _ = w.Write([]byte(fmt.Sprintf(`{"status":%d}`, code)))
	}
}

func legacyEnvelope(t *testing.T) *receipt.Envelope {
	t.Helper()
	env, err := receipt.Parse(append([]byte{0x30, 0x82, 0x02, 0x00}, make([]byte, 60)...))
	require.NoError(t, err)
	return env
}

func TestAppStoreVerifier_Valid(t *testing.T) {
	client := fakeAppStore(t, body(okBody, "Production"), status(21008))
	v := NewAppStoreVerifier(client, "com.example.cashier")

	verified, err := v.Validate(context.Background(), legacyEnvelope(t), receipt.EnvironmentProduction)
	require.NoError(t, err)
	require.Equal(t, receipt.FormatAppStoreReceipt, verified.Format())

	records, err := receipt.Decode(verified)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "t1", records[0].TransactionID)
}

func TestAppStoreVerifier_SandboxClaimUsesSandboxEndpoint(t *testing.T) {
	client := fakeAppStore(t, status(21007), body(okBody, "Sandbox"))
	v := NewAppStoreVerifier(client, "")

	verified, err := v.Validate(context.Background(), legacyEnvelope(t), receipt.EnvironmentSandbox)
	require.NoError(t, err)
	require.Equal(t, receipt.EnvironmentSandbox, verified.Environment())
}

func TestAppStoreVerifier_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		prod    func(http.ResponseWriter)
		sandbox func(http.ResponseWriter)
		claimed receipt.Environment
		want    error
	}{
		{name: "sandbox receipt claimed as production", prod: status(21007), sandbox: body(okBody, "Sandbox"), claimed: receipt.EnvironmentProduction, want: receipt.ErrEnvironmentMismatch},
		{name: "production receipt claimed as sandbox", prod: body(okBody, "Production"), sandbox: status(21008), claimed: receipt.EnvironmentSandbox, want: receipt.ErrEnvironmentMismatch},
		{name: "malformed data", prod: status(21002), sandbox: status(21002), claimed: receipt.EnvironmentProduction, want: receipt.ErrMalformedReceipt},
		{name: "not authentic", prod: status(21003), sandbox: status(21003), claimed: receipt.EnvironmentProduction, want: receipt.ErrSignatureInvalid},
		{name: "shared secret mismatch", prod: status(21004), sandbox: status(21004), claimed: receipt.EnvironmentProduction, want: receipt.ErrSignatureInvalid},
		{name: "server unavailable", prod: status(21005), sandbox: status(21005), claimed: receipt.EnvironmentProduction, want: receipt.ErrValidationUnavailable},
		{name: "internal data access error", prod: status(21199), sandbox: status(21199), claimed: receipt.EnvironmentProduction, want: receipt.ErrValidationUnavailable},
		{name: "undecodable body", prod: body("<html>"), sandbox: body("<html>"), claimed: receipt.EnvironmentProduction, want: receipt.ErrValidationUnavailable},
		{
			name: "http 503",
			prod: func(w http.ResponseWriter) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			sandbox: status(0),
			claimed: receipt.EnvironmentProduction,
			want:    receipt.ErrValidationUnavailable,
		},
		{name: "ok without environment", prod: status(0), sandbox: status(0), claimed: receipt.EnvironmentProduction, want: receipt.ErrValidationUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewAppStoreVerifier(fakeAppStore(t, tt.prod, tt.sandbox), "")
			verified, err := v.Validate(context.Background(), legacyEnvelope(t), tt.claimed)
			require.ErrorIs(t, err, tt.want)
			require.Nil(t, verified)
		})
	}
}

func TestAppStoreVerifier_BundleMismatch(t *testing.T) {
	v := NewAppStoreVerifier(fakeAppStore(t, body(okBody, "Production"), status(0)), "com.example.other")
	_, err := v.Validate(context.Background(), legacyEnvelope(t), receipt.EnvironmentProduction)
	require.ErrorIs(t, err, receipt.ErrSignatureInvalid)
}
