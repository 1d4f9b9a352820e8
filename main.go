package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	gmw "github.com/Laisky/gin-middlewares/v7"
	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/polygate/polygate/common/client"
	"github.com/polygate/polygate/common/config"
	"github.com/polygate/polygate/common/logger"
	"github.com/polygate/polygate/model"
	"github.com/polygate/polygate/monitor"
	"github.com/polygate/polygate/relay/selector"
	"github.com/polygate/polygate/router"
)

func main() {
	// Missing .env is fine, environment variables still apply.
	_ = godotenv.Load()

	logger.SetupLogger(config.DebugEnabled)
	gin.SetMode(config.GinMode)

	if err := model.InitDB(); err != nil {
		logger.Logger.Fatal("initialize database", zap.Error(err))
	}
	client.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	selector.StartExclusionReset()
	monitor.StartQuotaRefresher(ctx)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gmw.NewLoggerMiddleware(
		gmw.WithLevel(glog.LevelInfo.String()),
		gmw.WithLogger(logger.Logger.Named("gin")),
	))
	router.SetRouter(engine)

	addr := fmt.Sprintf("%s:%d", config.Address, config.Port)
	logger.Logger.Info("server starting", zap.String("address", addr))
	if err := engine.Run(addr); err != nil {
		logger.Logger.Fatal("run server", zap.Error(err))
	}
}
