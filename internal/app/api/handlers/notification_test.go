package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/cashier-receipts/internal/app/service/notification"
	"github.com/fatflowers/cashier-receipts/internal/receipt"
	"github.com/fatflowers/cashier-receipts/internal/store"
	"github.com/fatflowers/cashier-receipts/pkg/response"
)

type stubNotifications struct {
	got string
	res *notification.Result
	err error
}

func (s *stubNotifications) Handle(_ context.Context, signedPayload string) (*notification.Result, error) {
	s.got = signedPayload
	return s.res, s.err
}

func notificationEngine(h NotificationHandler) *gin.Engine {
	r := gin.New()
	RegisterNotificationRoutes(r.Group("/api/v1/notifications"), h, zap.NewNop().Sugar())
	return r
}

func TestAppleNotification(t *testing.T) {
	h := &stubNotifications{res: &notification.Result{NotificationID: "n1", Outcome: notification.OutcomeApplied, NewlyProcessed: []string{"1000"}}}
	w, env := do(t, notificationEngine(h), http.MethodPost, "/api/v1/notifications/apple", map[string]string{"signedPayload": "a.b.c"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	require.Equal(t, "a.b.c", h.got)
	require.Contains(t, string(env.Data), `"outcome":"applied"`)
}

func TestAppleNotification_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: bad", receipt.ErrMalformedReceipt), http.StatusBadRequest},
		{fmt.Errorf("%w: rogue chain", receipt.ErrSignatureInvalid), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: sandbox", receipt.ErrEnvironmentMismatch), http.StatusUnprocessableEntity},
		{fmt.Errorf("reconcile: %w", store.ErrStorageUnavailable), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			w, _ := do(t, notificationEngine(&stubNotifications{err: tc.err}), http.MethodPost, "/api/v1/notifications/apple", map[string]string{"signedPayload": "a.b.c"})
			require.Equal(t, tc.status, w.Code)
		})
	}

	w, _ := do(t, notificationEngine(&stubNotifications{}), http.MethodPost, "/api/v1/notifications/apple", map[string]string{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}
