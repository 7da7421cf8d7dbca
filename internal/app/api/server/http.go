package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/cashier-receipts/docs"
	"github.com/fatflowers/cashier-receipts/internal/app/api/handlers"
	mw "github.com/fatflowers/cashier-receipts/internal/app/api/middleware"
	"github.com/fatflowers/cashier-receipts/internal/app/service/notification"
	"github.com/fatflowers/cashier-receipts/internal/app/service/submission"
	"github.com/fatflowers/cashier-receipts/internal/store"
	cfgpkg "github.com/fatflowers/cashier-receipts/pkg/config"
	"github.com/fatflowers/cashier-receipts/pkg/metrics"
)

func newEngine(cfg *cfgpkg.Config) (*gin.Engine, error) {
	if cfg.Env != cfgpkg.EnvDev {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := handlers.RegisterValidations(); err != nil {
		return nil, fmt.Errorf("register request validations: %w", err)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	// request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r, nil
}

type routeDeps struct {
	fx.In

	Engine       *gin.Engine
	Log          *zap.SugaredLogger
	Config       *cfgpkg.Config
	Submission   *submission.Service
	Notification *notification.Service
	Store        store.Store
}

func registerRoutes(d routeDeps) {
	r, log, cfg := d.Engine, d.Log, d.Config

	p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
		Subsystem: "cashier",
		ReqCntURLLabelMappingFn: func(c *gin.Context) string {
			if fp := c.FullPath(); fp != "" {
				return fp
			}
			return "unmatched"
		},
		Logger: log,
	})
	if cfg.MetricsAddr != "" {
		p.SetListenAddress(cfg.MetricsAddr)
		log.Infow("metrics started", "addr", cfg.MetricsAddr)
	}
	p.Use(r)

	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterHealthRoutes(pub, d.Store, log)
	// Swagger UI
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterReceiptRoutes(apiV1, d.Submission, log)
	handlers.RegisterEntitlementRoutes(apiV1, d.Submission, log)
	handlers.RegisterNotificationRoutes(apiV1.Group("/notifications"), d.Notification, log)
	handlers.RegisterAdminRoutes(apiV1.Group("/admin"), d.Submission, log)
}

// NewHandler wraps the engine with CORS handling when origins are configured.
func NewHandler(cfg *cfgpkg.Config, r *gin.Engine) http.Handler {
	if len(cfg.Server.CORSOrigins) == 0 {
		return r
	}
	c := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", mw.RequestIDHeader},
		ExposedHeaders: []string{mw.RequestIDHeader},
		MaxAge:         int((10 * time.Minute).Seconds()),
	})
	return c.Handler(r)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, h http.Handler) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// Module builds the routed engine without listening, so it can also be
// served by the Lambda adapter.
var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
)

// ListenModule serves the engine on server.host:server.port.
var ListenModule = fx.Invoke(runServer)
