package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/cashier-receipts/pkg/logctx"
	"github.com/fatflowers/cashier-receipts/pkg/response"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// @Summary      Health check
// @Description  Returns service status, including whether the store is reachable
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /healthz [get]
func Healthz(p Pinger, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			logctx.FromGin(c, base).Warnw("health check failed", "err", err)
			c.JSON(http.StatusServiceUnavailable, response.ErrorT(response.APIResponseCodeTemporarilyUnavailable, map[string]string{"status": "degraded"}))
			return
		}
		c.JSON(http.StatusOK, response.OKT(map[string]string{"status": "ok"}))
	}
}

func RegisterHealthRoutes(r gin.IRouter, p Pinger, base *zap.SugaredLogger) {
	r.GET("/healthz", Healthz(p, base))
}
