package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/cashier-receipts/internal/app/api/server"
	"github.com/fatflowers/cashier-receipts/internal/app/service/notification"
	"github.com/fatflowers/cashier-receipts/internal/app/service/reconciler"
	"github.com/fatflowers/cashier-receipts/internal/app/service/submission"
	"github.com/fatflowers/cashier-receipts/internal/catalog"
	"github.com/fatflowers/cashier-receipts/internal/events"
	"github.com/fatflowers/cashier-receipts/internal/platform/storage"
	"github.com/fatflowers/cashier-receipts/internal/validation"
	"github.com/fatflowers/cashier-receipts/pkg/config"
	"github.com/fatflowers/cashier-receipts/pkg/logger"
	"github.com/fatflowers/cashier-receipts/pkg/metrics"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// Module is the whole service except the HTTP listener.
var Module = fx.Options(
	logger.Module,
	config.Module,
	metrics.Module,
	storage.Module,
	catalog.Module,
	events.Module,
	validation.Module,
	reconciler.Module,
	submission.Module,
	notification.Module,
	server.Module,
)
