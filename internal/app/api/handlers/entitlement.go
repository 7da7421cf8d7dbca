package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/fatflowers/cashier-receipts/internal/app/service/submission"
	"github.com/fatflowers/cashier-receipts/internal/models"
	"github.com/fatflowers/cashier-receipts/internal/store"
	"github.com/fatflowers/cashier-receipts/pkg/logctx"
	"github.com/fatflowers/cashier-receipts/pkg/response"
	"github.com/fatflowers/cashier-receipts/pkg/types"
)

var nowFunc = time.Now

// EntitlementReader serves the read side of the entitlement store.
type EntitlementReader interface {
	QueryEntitlement(ctx context.Context, userID, productID string) (*models.EntitlementState, error)
	EntitlementHistory(ctx context.Context, userID, productID string) ([]*models.EntitlementState, error)
	LedgerEntry(ctx context.Context, transactionID string) (*models.LedgerEntry, error)
}

type EntitlementQuery struct {
	UserID    string `form:"user_id" binding:"required,max=64"`
	ProductID string `form:"product_id" binding:"required,max=128"`
}

// EntitlementView is an entitlement as reported to clients. Status is
// evaluated at response time, so an active entitlement whose expiry has
// passed is reported as expired.
type EntitlementView struct {
	ID                string                        `json:"id"`
	UserID            string                        `json:"user_id"`
	ProductID         string                        `json:"product_id"`
	Status            types.EntitlementStatus       `json:"status"`
	ExpiresAt         *time.Time                    `json:"expires_at"`
	LastTransactionID string                        `json:"last_transaction_id"`
	Environment       string                        `json:"environment"`
	IsTrial           bool                          `json:"is_trial"`
	Reason            types.EntitlementChangeReason `json:"reason"`
	Revision          int64                         `json:"revision"`
	SupersededAt      *time.Time                    `json:"superseded_at,omitempty"`
	CreatedAt         time.Time                     `json:"created_at"`
}

func toEntitlementView(e *models.EntitlementState, now time.Time) *EntitlementView {
	if e == nil {
		return nil
	}
	status := e.Status
	if status == types.EntitlementStatusActive && e.Current() && !e.Active(now) {
		status = types.EntitlementStatusExpired
	}
	return &EntitlementView{
		ID:                e.ID,
		UserID:            e.UserID,
		ProductID:         e.ProductID,
		Status:            status,
		ExpiresAt:         e.ExpiresAt,
		LastTransactionID: e.LastTransactionID,
		Environment:       e.Environment,
		IsTrial:           e.IsTrial,
		Reason:            e.Reason,
		Revision:          e.Revision,
		SupersededAt:      e.SupersededAt,
		CreatedAt:         e.CreatedAt,
	}
}

func toEntitlementViews(list []*models.EntitlementState, now time.Time) []*EntitlementView {
	return lo.Map(list, func(e *models.EntitlementState, _ int) *EntitlementView {
		return toEntitlementView(e, now)
	})
}

// @Summary      Query entitlement
// @Description  Returns the current entitlement of a user for a product.
// @Tags         Entitlement
// @Produce      json
// @Param        user_id     query  string  true  "User ID"
// @Param        product_id  query  string  true  "Product ID"
// @Success      200  {object}  handlers.RespEntitlement
// @Failure      404  {object}  handlers.RespOK
// @Router       /api/v1/entitlement [get]
func ApiQueryEntitlement(svc EntitlementReader, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q EntitlementQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}

		e, err := svc.QueryEntitlement(c.Request.Context(), q.UserID, q.ProductID)
		if err != nil {
			writeReadError(c, base, "query entitlement failed", err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(toEntitlementView(e, nowFunc())))
	}
}

// writeReadError maps read-side failures: missing rows are 404, everything
// else is a storage outage the client may retry.
func writeReadError(c *gin.Context, base *zap.SugaredLogger, msg string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, response.ErrorT[any](response.APIResponseCodeNotFound, nil))
		return
	}
	logctx.FromGin(c, base).Warnw(msg, "err", err)
	var subErr *submission.Error
	if errors.As(err, &subErr) && subErr.Retryable {
		c.JSON(http.StatusServiceUnavailable, response.ErrorT[any](response.APIResponseCodeTemporarilyUnavailable, nil))
		return
	}
	c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, nil))
}

func RegisterEntitlementRoutes(r gin.IRouter, svc EntitlementReader, base *zap.SugaredLogger) {
	r.GET("/entitlement", ApiQueryEntitlement(svc, base))
}
