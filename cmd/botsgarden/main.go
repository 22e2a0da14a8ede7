package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hewenyu/botsgarden/internal/config"
	"github.com/hewenyu/botsgarden/internal/lifecycle"
	"github.com/hewenyu/botsgarden/internal/metrics"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

const version = "0.1.0"

var (
	configFile string
	envFile    string
)

func init() {
	// 解析命令行参数
	flag.StringVarP(&configFile, "config", "c", "", "配置文件路径")
	flag.StringVar(&envFile, "env-file", "", "环境变量文件路径，默认读取当前目录下的.env")
}

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	// 加载配置
	appConfig, err := config.Load(config.LoadOptions{
		ConfigFile: configFile,
		EnvFile:    envFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		return 1
	}

	// 初始化日志
	logger, err := config.NewLogger(appConfig.Log.Development, appConfig.Log.Level,
		zap.String("service", appConfig.Service.Name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	// 打印启动信息
	logger.Info("Botsgarden Service Starting...",
		zap.String("version", version),
		zap.String("registry_backend", appConfig.Registry.Backend),
		zap.String("listen", appConfig.ListenAddr()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	controller := lifecycle.New(appConfig, logger, lifecycle.WithMetrics(metrics.New("botsgarden")))
	if err := controller.Run(ctx); err != nil {
		logger.Error("服务异常退出", zap.Error(err))
		return 1
	}

	logger.Info("服务已正常退出")
	return 0
}
