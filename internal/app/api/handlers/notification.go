package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/cashier-receipts/internal/app/service/notification"
	"github.com/fatflowers/cashier-receipts/internal/receipt"
	"github.com/fatflowers/cashier-receipts/pkg/logctx"
	"github.com/fatflowers/cashier-receipts/pkg/response"
)

type NotificationHandler interface {
	Handle(ctx context.Context, signedPayload string) (*notification.Result, error)
}

// @Summary      Apple server notification
// @Description  Receives App Store Server Notifications V2. Any non-200 answer makes Apple redeliver, so only retryable failures return 503.
// @Tags         Notification
// @Accept       json
// @Produce      json
// @Param        request body notification.Request true "Signed notification"
// @Success      200  {object}  handlers.RespNotification
// @Failure      400  {object}  handlers.RespOK
// @Failure      422  {object}  handlers.RespOK
// @Failure      503  {object}  handlers.RespOK
// @Router       /api/v1/notifications/apple [post]
func ApiAppleNotification(h NotificationHandler, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req notification.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}

		res, err := h.Handle(c.Request.Context(), req.SignedPayload)
		if err != nil {
			lg := logctx.FromGin(c, base)
			switch {
			case errors.Is(err, receipt.ErrMalformedReceipt), errors.Is(err, receipt.ErrUnsupportedFormat):
				lg.Infow("malformed notification", "err", err)
				c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			case errors.Is(err, receipt.ErrSignatureInvalid), errors.Is(err, receipt.ErrEnvironmentMismatch):
				lg.Warnw("notification rejected", "err", err)
				c.JSON(http.StatusUnprocessableEntity, response.ErrorT[any](response.APIResponseCodeUnprocessable, err.Error()))
			default:
				lg.Errorw("notification failed", "err", err)
				c.JSON(http.StatusServiceUnavailable, response.ErrorT[any](response.APIResponseCodeTemporarilyUnavailable, nil))
			}
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterNotificationRoutes(r gin.IRouter, h NotificationHandler, base *zap.SugaredLogger) {
	r.POST("/apple", ApiAppleNotification(h, base))
}
