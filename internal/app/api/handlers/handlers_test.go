package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/cashier-receipts/internal/app/service/submission"
	"github.com/fatflowers/cashier-receipts/internal/models"
	"github.com/fatflowers/cashier-receipts/internal/receipt"
	"github.com/fatflowers/cashier-receipts/internal/store"
	"github.com/fatflowers/cashier-receipts/pkg/response"
	"github.com/fatflowers/cashier-receipts/pkg/types"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	if err := RegisterValidations(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type stubSubmitter struct {
	got  *submission.Request
	resp *submission.Response
	err  error
}

func (s *stubSubmitter) Submit(_ context.Context, req *submission.Request) (*submission.Response, error) {
	s.got = req
	return s.resp, s.err
}

type stubReader struct {
	entitlement *models.EntitlementState
	history     []*models.EntitlementState
	ledger      *models.LedgerEntry
	err         error
}

func (s *stubReader) QueryEntitlement(context.Context, string, string) (*models.EntitlementState, error) {
	return s.entitlement, s.err
}

func (s *stubReader) EntitlementHistory(context.Context, string, string) ([]*models.EntitlementState, error) {
	return s.history, s.err
}

func (s *stubReader) LedgerEntry(context.Context, string) (*models.LedgerEntry, error) {
	return s.ledger, s.err
}

type envelope struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    json.RawMessage          `json:"data"`
}

func do(t *testing.T, r *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func receiptEngine(svc ReceiptSubmitter) *gin.Engine {
	r := gin.New()
	RegisterReceiptRoutes(r.Group("/api/v1"), svc, zap.NewNop().Sugar())
	return r
}

func validBody() map[string]string {
	return map[string]string{"user_id": "u1", "receipt_blob": "ZXhhbXBsZQ==", "environment": "sandbox"}
}

func TestSubmitReceipt_Completed(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC()
	ent := &models.EntitlementState{ID: "e1", UserID: "u1", ProductID: "pro", Status: types.EntitlementStatusActive, ExpiresAt: &expires, LastTransactionID: "1000"}
	svc := &stubSubmitter{resp: &submission.Response{
		Status:         submission.StateCompleted,
		Entitlement:    ent,
		Entitlements:   []*models.EntitlementState{ent},
		NewlyProcessed: []string{"1000"},
	}}

	w, env := do(t, receiptEngine(svc), http.MethodPost, "/api/v1/receipts/submit", validBody())
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	require.Equal(t, &submission.Request{UserID: "u1", ReceiptBlob: "ZXhhbXBsZQ==", Environment: "sandbox"}, svc.got)

	var data SubmitReceiptResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Equal(t, "completed", data.Status)
	require.Equal(t, []string{"1000"}, data.NewlyProcessed)
	require.Equal(t, types.EntitlementStatusActive, data.Entitlement.Status)
	require.Len(t, data.Entitlements, 1)
	require.Nil(t, data.Error)
}

func TestSubmitReceipt_InvalidBody(t *testing.T) {
	cases := map[string]map[string]string{
		"missing user":        {"receipt_blob": "x", "environment": "production"},
		"unknown environment": {"user_id": "u1", "receipt_blob": "x", "environment": "staging"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubSubmitter{}
			w, env := do(t, receiptEngine(svc), http.MethodPost, "/api/v1/receipts/submit", body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			require.Equal(t, response.APIResponseCodeBadRequest, env.Code)
			require.Nil(t, svc.got)
		})
	}
}

func TestSubmitReceipt_EmptyBlobReachesPipeline(t *testing.T) {
	svc := &stubSubmitter{err: &submission.Error{
		State:  submission.StateReceived,
		Reason: submission.ReasonMalformedReceipt,
		Err:    receipt.ErrMalformedReceipt,
	}}
	w, env := do(t, receiptEngine(svc), http.MethodPost, "/api/v1/receipts/submit", map[string]string{"user_id": "u1", "environment": "production"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Equal(t, response.APIResponseCodeUnprocessable, env.Code)
	require.Equal(t, &submission.Request{UserID: "u1", Environment: "production"}, svc.got)
}

func TestSubmitReceipt_AcceptsAppleEnvironmentSpelling(t *testing.T) {
	svc := &stubSubmitter{resp: &submission.Response{Status: submission.StateCompleted}}
	body := validBody()
	body["environment"] = "Sandbox"

	w, env := do(t, receiptEngine(svc), http.MethodPost, "/api/v1/receipts/submit", body)
	require.Equal(t, http.StatusOK, w.Code)

	var data SubmitReceiptResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotNil(t, data.Entitlements)
	require.NotNil(t, data.NewlyProcessed)
}

func TestSubmitReceipt_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   response.APIResponseCode
	}{
		{
			name:   "terminal",
			err:    &submission.Error{State: submission.StateValidating, Reason: submission.ReasonSignatureInvalid, Err: receipt.ErrSignatureInvalid},
			status: http.StatusUnprocessableEntity,
			code:   response.APIResponseCodeUnprocessable,
		},
		{
			name:   "retryable",
			err:    &submission.Error{State: submission.StateValidating, Reason: submission.ReasonValidationUnavailable, Retryable: true, Err: receipt.ErrValidationUnavailable},
			status: http.StatusServiceUnavailable,
			code:   response.APIResponseCodeTemporarilyUnavailable,
		},
		{
			name:   "invalid request",
			err:    fmt.Errorf("%w: user_id is required", submission.ErrInvalidRequest),
			status: http.StatusBadRequest,
			code:   response.APIResponseCodeBadRequest,
		},
		{
			name:   "unexpected",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			code:   response.APIResponseCodeError,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, env := do(t, receiptEngine(&stubSubmitter{err: tc.err}), http.MethodPost, "/api/v1/receipts/submit", validBody())
			require.Equal(t, tc.status, w.Code)
			require.Equal(t, tc.code, env.Code)
		})
	}
}

func TestSubmitReceipt_ErrorBodyCarriesReason(t *testing.T) {
	svc := &stubSubmitter{err: &submission.Error{
		State:     submission.StateReconciling,
		Reason:    submission.ReasonStorageUnavailable,
		Retryable: true,
		Err:       store.ErrStorageUnavailable,
	}}

	_, env := do(t, receiptEngine(svc), http.MethodPost, "/api/v1/receipts/submit", validBody())
	var data SubmitReceiptResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Equal(t, "failed", data.Status)
	require.NotNil(t, data.Error)
	require.Equal(t, "StorageUnavailable", data.Error.Reason)
	require.Equal(t, "reconciling", data.Error.State)
	require.True(t, data.Error.Retryable)
	require.NotEmpty(t, data.Error.Message)
}

func readEngine(svc EntitlementReader) *gin.Engine {
	r := gin.New()
	api := r.Group("/api/v1")
	RegisterEntitlementRoutes(api, svc, zap.NewNop().Sugar())
	RegisterAdminRoutes(api.Group("/admin"), svc, zap.NewNop().Sugar())
	return r
}

func TestQueryEntitlement(t *testing.T) {
	future := time.Now().Add(time.Hour).UTC()
	past := time.Now().Add(-time.Hour).UTC()

	t.Run("active", func(t *testing.T) {
		svc := &stubReader{entitlement: &models.EntitlementState{ID: "e1", UserID: "u1", ProductID: "pro", Status: types.EntitlementStatusActive, ExpiresAt: &future}}
		w, env := do(t, readEngine(svc), http.MethodGet, "/api/v1/entitlement?user_id=u1&product_id=pro", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var view EntitlementView
		require.NoError(t, json.Unmarshal(env.Data, &view))
		require.Equal(t, types.EntitlementStatusActive, view.Status)
	})

	t.Run("lapsed entitlement reads as expired", func(t *testing.T) {
		svc := &stubReader{entitlement: &models.EntitlementState{ID: "e1", UserID: "u1", ProductID: "pro", Status: types.EntitlementStatusActive, ExpiresAt: &past}}
		_, env := do(t, readEngine(svc), http.MethodGet, "/api/v1/entitlement?user_id=u1&product_id=pro", nil)
		var view EntitlementView
		require.NoError(t, json.Unmarshal(env.Data, &view))
		require.Equal(t, types.EntitlementStatusExpired, view.Status)
	})

	t.Run("not found", func(t *testing.T) {
		w, env := do(t, readEngine(&stubReader{err: store.ErrNotFound}), http.MethodGet, "/api/v1/entitlement?user_id=u1&product_id=pro", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
		require.Equal(t, response.APIResponseCodeNotFound, env.Code)
	})

	t.Run("missing product", func(t *testing.T) {
		w, _ := do(t, readEngine(&stubReader{}), http.MethodGet, "/api/v1/entitlement?user_id=u1", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("storage outage", func(t *testing.T) {
		svc := &stubReader{err: &submission.Error{Reason: submission.ReasonStorageUnavailable, Retryable: true, Err: store.ErrStorageUnavailable}}
		w, env := do(t, readEngine(svc), http.MethodGet, "/api/v1/entitlement?user_id=u1&product_id=pro", nil)
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		require.Equal(t, response.APIResponseCodeTemporarilyUnavailable, env.Code)
	})
}

func TestAdminRoutes(t *testing.T) {
	now := time.Now().UTC()
	svc := &stubReader{
		history: []*models.EntitlementState{
			{ID: "e1", UserID: "u1", ProductID: "pro", Status: types.EntitlementStatusActive, Revision: 1, SupersededAt: &now},
			{ID: "e2", UserID: "u1", ProductID: "pro", Status: types.EntitlementStatusExpired, Revision: 2},
		},
		ledger: &models.LedgerEntry{TransactionID: "1000:revocation", Kind: types.LedgerEntryKindRevocation, UserID: "u1", ProductID: "pro"},
	}
	r := readEngine(svc)

	w, env := do(t, r, http.MethodGet, "/api/v1/admin/entitlement/history?user_id=u1&product_id=pro", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history EntitlementHistoryResponse
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Equal(t, 2, history.Total)
	// revision order, oldest first
	require.Equal(t, "e1", history.Items[0].ID)
	require.Equal(t, "e2", history.Items[1].ID)
	// superseded versions keep the status they were written with
	require.Equal(t, types.EntitlementStatusActive, history.Items[0].Status)

	w, env = do(t, r, http.MethodGet, "/api/v1/admin/ledger/1000:revocation", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entry models.LedgerEntry
	require.NoError(t, json.Unmarshal(env.Data, &entry))
	require.Equal(t, types.LedgerEntryKindRevocation, entry.Kind)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealthz(t *testing.T) {
	r := gin.New()
	RegisterHealthRoutes(r, pinger{}, zap.NewNop().Sugar())
	w, env := do(t, r, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, string(env.Data))

	r = gin.New()
	RegisterHealthRoutes(r, pinger{err: store.ErrStorageUnavailable}, zap.NewNop().Sugar())
	w, _ = do(t, r, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
