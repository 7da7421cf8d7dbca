package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/cashier-receipts/internal/app/api/handlers"
	"github.com/fatflowers/cashier-receipts/internal/app/service/notification"
	"github.com/fatflowers/cashier-receipts/internal/app/service/reconciler"
	"github.com/fatflowers/cashier-receipts/internal/app/service/submission"
	"github.com/fatflowers/cashier-receipts/internal/catalog"
	"github.com/fatflowers/cashier-receipts/internal/events"
	"github.com/fatflowers/cashier-receipts/internal/receipt"
	"github.com/fatflowers/cashier-receipts/internal/receipt/receipttest"
	"github.com/fatflowers/cashier-receipts/internal/store/memory"
	"github.com/fatflowers/cashier-receipts/internal/validation"
	cfgpkg "github.com/fatflowers/cashier-receipts/pkg/config"
	"github.com/fatflowers/cashier-receipts/pkg/response"
	"github.com/fatflowers/cashier-receipts/pkg/types"
)

type testServer struct {
	handler http.Handler
	auth    *receipttest.Authority
}

func newTestServer(t *testing.T, cfg *cfgpkg.Config) *testServer {
	t.Helper()
	log := zap.NewNop().Sugar()
	auth := receipttest.NewAuthority(t, "apple")
	v, err := validation.NewSignedPayloadVerifier(validation.SignedPayloadOptions{
		BundleID:           receipttest.BundleID,
		ProductionRootsPEM: auth.RootPEM(),
		SandboxRootsPEM:    auth.RootPEM(),
	})
	require.NoError(t, err)

	db := memory.New()
	rec := reconciler.NewService(cfg, db, catalog.New(nil), events.NewDispatcher(events.NopPublisher{}, log), nil, log)
	svc := submission.NewService(v, rec, db, nil, log)
	notif := notification.NewService(v, rec, db, nil, log)
	t.Cleanup(func() { require.NoError(t, svc.Wait(context.Background())) })

	r, err := newEngine(cfg)
	require.NoError(t, err)
	registerRoutes(routeDeps{Engine: r, Log: log, Config: cfg, Submission: svc, Notification: notif, Store: db})
	return &testServer{handler: NewHandler(cfg, r), auth: auth}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w, out
}

func TestServer_SubmitThenQuery(t *testing.T) {
	s := newTestServer(t, &cfgpkg.Config{})
	expires := receipttest.Ptr(time.Now().Add(30 * 24 * time.Hour))
	blob := s.auth.Blob(t, receipttest.Payload(receipt.EnvironmentProduction, receipttest.Txn{
		ID: "2000", ProductID: "pro.monthly", PurchaseDate: receipttest.At(time.Now().Add(-time.Hour)), ExpiresDate: expires,
	}))
	body := handlers.SubmitReceiptRequest{UserID: "u1", ReceiptBlob: blob, Environment: "production"}

	w, out := s.do(t, http.MethodPost, "/api/v1/receipts/submit", body)
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, response.APIResponseCodeOK, out["code"])
	data := out["data"].(map[string]any)
	require.Equal(t, []any{"2000"}, data["newly_processed_transaction_ids"])
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))

	// resubmission changes nothing
	w, out = s.do(t, http.MethodPost, "/api/v1/receipts/submit", body)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, out["data"].(map[string]any)["newly_processed_transaction_ids"])

	w, out = s.do(t, http.MethodGet, "/api/v1/entitlement?user_id=u1&product_id=pro.monthly", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ent := out["data"].(map[string]any)
	require.Equal(t, string(types.EntitlementStatusActive), ent["status"])
	require.Equal(t, "2000", ent["last_transaction_id"])

	w, _ = s.do(t, http.MethodGet, "/api/v1/entitlement?user_id=u2&product_id=pro.monthly", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w, out = s.do(t, http.MethodGet, "/api/v1/admin/ledger/2000", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "u1", out["data"].(map[string]any)["user_id"])
}

func TestServer_RejectsTamperedReceipt(t *testing.T) {
	s := newTestServer(t, &cfgpkg.Config{})
	other := receipttest.NewAuthority(t, "mallory")
	blob := other.Blob(t, receipttest.Payload(receipt.EnvironmentProduction, receipttest.Txn{
		ID: "3000", ProductID: "pro.monthly", PurchaseDate: receipttest.At(time.Now()),
	}))

	w, out := s.do(t, http.MethodPost, "/api/v1/receipts/submit", handlers.SubmitReceiptRequest{UserID: "u1", ReceiptBlob: blob, Environment: "production"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.EqualValues(t, response.APIResponseCodeUnprocessable, out["code"])
	subErr := out["data"].(map[string]any)["error"].(map[string]any)
	require.Equal(t, string(submission.ReasonSignatureInvalid), subErr["reason"])
	require.Equal(t, false, subErr["retryable"])
}

func TestServer_EmptyReceiptIsMalformed(t *testing.T) {
	s := newTestServer(t, &cfgpkg.Config{})
	for _, blob := range []string{"", "   "} {
		w, out := s.do(t, http.MethodPost, "/api/v1/receipts/submit", handlers.SubmitReceiptRequest{UserID: "u1", ReceiptBlob: blob, Environment: "production"})
		require.Equal(t, http.StatusUnprocessableEntity, w.Code, "blob %q", blob)
		require.EqualValues(t, response.APIResponseCodeUnprocessable, out["code"])
		subErr := out["data"].(map[string]any)["error"].(map[string]any)
		require.Equal(t, string(submission.ReasonMalformedReceipt), subErr["reason"])
		require.Equal(t, string(submission.StateReceived), subErr["state"])
		require.Equal(t, false, subErr["retryable"])
	}
}

func TestServer_Healthz(t *testing.T) {
	s := newTestServer(t, &cfgpkg.Config{})
	w, out := s.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", out["data"].(map[string]any)["status"])
}

func TestNewHandler_CORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &cfgpkg.Config{Server: cfgpkg.ServerConfig{CORSOrigins: []string{"https://app.example.com"}}}
	h := NewHandler(cfg, gin.New())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/receipts/submit", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/receipts/submit", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
