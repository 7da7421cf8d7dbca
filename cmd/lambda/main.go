// Command lambda serves the receipts API behind API Gateway.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/cashier-receipts/internal/app"
	"github.com/fatflowers/cashier-receipts/internal/app/service/submission"
	appevents "github.com/fatflowers/cashier-receipts/internal/events"
)

func main() {
	var (
		engine     *gin.Engine
		subs       *submission.Service
		dispatcher *appevents.Dispatcher
		log        *zap.SugaredLogger
	)
	a := fx.New(app.Module, fx.Populate(&engine, &subs, &dispatcher, &log), fx.NopLogger)

	startCtx, cancel := context.WithTimeout(context.Background(), app.DefaultStartTimeout)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		zap.NewExample().Sugar().Errorf("failed to start app: %v", err)
		os.Exit(1)
	}

	adapter := ginadapter.New(engine)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		resp, err := adapter.ProxyWithContext(ctx, req)
		// the sandbox is frozen once the handler returns, so background
		// submission logs and events must be flushed first
		if werr := subs.Wait(ctx); werr != nil {
			log.Warnw("submission logs not flushed", "err", werr)
		}
		if werr := dispatcher.Wait(ctx); werr != nil {
			log.Warnw("entitlement events not flushed", "err", werr)
		}
		return resp, err
	})
}
