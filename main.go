package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"

	"github.com/nebulablock/rpdprobe/common"
	"github.com/nebulablock/rpdprobe/common/config"
	"github.com/nebulablock/rpdprobe/common/logger"
)

func main() {
	common.Init()

	logger.Logger.Info("rpdprobe started",
		zap.String("version", common.Version),
		zap.String("mode", *common.Mode),
		zap.String("endpoint", config.ChatCompletionsURL()),
	)

	if os.Getenv("GIN_MODE") != gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Logger.Error("probe run failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Logger.Info("all tiers passed")
}
