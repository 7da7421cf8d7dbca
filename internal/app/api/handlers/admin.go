package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/cashier-receipts/pkg/response"
)

type EntitlementHistoryResponse struct {
	Items []*EntitlementView `json:"items"`
	Total int                `json:"total"`
}

// @Summary      Entitlement history (Admin)
// @Description  Lists every version of a user's entitlement for a product in revision order, oldest first.
// @Tags         Admin
// @Produce      json
// @Param        user_id     query  string  true  "User ID"
// @Param        product_id  query  string  true  "Product ID"
// @Success      200  {object}  handlers.RespEntitlementHistory
// @Router       /api/v1/admin/entitlement/history [get]
func ApiEntitlementHistory(svc EntitlementReader, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q EntitlementQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		history, err := svc.EntitlementHistory(c.Request.Context(), q.UserID, q.ProductID)
		if err != nil {
			writeReadError(c, base, "entitlement history failed", err)
			return
		}
		items := toEntitlementViews(history, nowFunc())
		c.JSON(http.StatusOK, response.OKT(&EntitlementHistoryResponse{Items: items, Total: len(items)}))
	}
}

// @Summary      Ledger entry (Admin)
// @Description  Returns the ledger entry of a processed transaction. Revocations use the key "<transaction_id>:revocation".
// @Tags         Admin
// @Produce      json
// @Param        transaction_id  path  string  true  "Ledger key"
// @Success      200  {object}  handlers.RespLedgerEntry
// @Failure      404  {object}  handlers.RespOK
// @Router       /api/v1/admin/ledger/{transaction_id} [get]
func ApiLedgerEntry(svc EntitlementReader, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, err := svc.LedgerEntry(c.Request.Context(), c.Param("transaction_id"))
		if err != nil {
			writeReadError(c, base, "ledger lookup failed", err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(entry))
	}
}

func RegisterAdminRoutes(r gin.IRouter, svc EntitlementReader, base *zap.SugaredLogger) {
	r.GET("/entitlement/history", ApiEntitlementHistory(svc, base))
	r.GET("/ledger/:transaction_id", ApiLedgerEntry(svc, base))
}
