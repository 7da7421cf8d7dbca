package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/cashier-receipts/internal/app/service/submission"
	"github.com/fatflowers/cashier-receipts/pkg/logctx"
	"github.com/fatflowers/cashier-receipts/pkg/response"
)

// ReceiptSubmitter runs uploaded receipts through validation and reconciliation.
type ReceiptSubmitter interface {
	Submit(ctx context.Context, req *submission.Request) (*submission.Response, error)
}

type SubmitReceiptRequest struct {
	UserID string `json:"user_id" binding:"required,max=64"`
	// ReceiptBlob is the base64 receipt or signed payload exactly as the device produced it.
	// An empty blob is a malformed receipt, not a malformed request.
	ReceiptBlob string `json:"receipt_blob"`
	Environment string `json:"environment" binding:"required,receipt_env"`
}

type SubmissionError struct {
	State     string `json:"state"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
	Message   string `json:"message"`
}

type SubmitReceiptResponse struct {
	Status         string             `json:"status"`
	Entitlement    *EntitlementView   `json:"entitlement,omitempty"`
	Entitlements   []*EntitlementView `json:"entitlements"`
	NewlyProcessed []string           `json:"newly_processed_transaction_ids"`
	Error          *SubmissionError   `json:"error,omitempty"`
}

// @Summary      Submit receipt
// @Description  Validates a store receipt and reconciles the user's entitlements. Resubmitting the same receipt is safe.
// @Tags         Receipt
// @Accept       json
// @Produce      json
// @Param        request body SubmitReceiptRequest true "Receipt submission"
// @Success      200  {object}  handlers.RespSubmitReceipt
// @Failure      400  {object}  handlers.RespOK
// @Failure      422  {object}  handlers.RespSubmitReceipt
// @Failure      503  {object}  handlers.RespSubmitReceipt
// @Router       /api/v1/receipts/submit [post]
func ApiSubmitReceipt(svc ReceiptSubmitter, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubmitReceiptRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}

		res, err := svc.Submit(c.Request.Context(), &submission.Request{
			UserID:      req.UserID,
			ReceiptBlob: req.ReceiptBlob,
			Environment: req.Environment,
		})
		if err != nil {
			writeSubmitError(c, base, err)
			return
		}

		now := nowFunc()
		c.JSON(http.StatusOK, response.OKT(&SubmitReceiptResponse{
			Status:         string(res.Status),
			Entitlement:    toEntitlementView(res.Entitlement, now),
			Entitlements:   toEntitlementViews(res.Entitlements, now),
			NewlyProcessed: nonNil(res.NewlyProcessed),
		}))
	}
}

func writeSubmitError(c *gin.Context, base *zap.SugaredLogger, err error) {
	if errors.Is(err, submission.ErrInvalidRequest) {
		c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
		return
	}

	var subErr *submission.Error
	if !errors.As(err, &subErr) {
		logctx.FromGin(c, base).Errorw("submit receipt failed", "err", err)
		c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, nil))
		return
	}

	status, code := http.StatusUnprocessableEntity, response.APIResponseCodeUnprocessable
	if subErr.Retryable {
		status, code = http.StatusServiceUnavailable, response.APIResponseCodeTemporarilyUnavailable
	}
	c.JSON(status, response.ErrorT(code, &SubmitReceiptResponse{
		Status:         string(submission.StateFailed),
		Entitlements:   []*EntitlementView{},
		NewlyProcessed: []string{},
		Error: &SubmissionError{
			State:     string(subErr.State),
			Reason:    string(subErr.Reason),
			Retryable: subErr.Retryable,
			Message:   errorMessage(subErr),
		},
	}))
}

func errorMessage(e *submission.Error) string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func RegisterReceiptRoutes(r gin.IRouter, svc ReceiptSubmitter, base *zap.SugaredLogger) {
	r.POST("/receipts/submit", ApiSubmitReceipt(svc, base))
}
