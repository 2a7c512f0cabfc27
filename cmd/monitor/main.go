package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitos/position_monitor/internal/domain"
	"github.com/vitos/position_monitor/internal/infrastructure/exchange"
	"github.com/vitos/position_monitor/internal/infrastructure/logger"
	"github.com/vitos/position_monitor/internal/infrastructure/storage"
	"github.com/vitos/position_monitor/internal/notify"
	"github.com/vitos/position_monitor/internal/usecase"
	"github.com/vitos/position_monitor/internal/web"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Feed struct {
		WSEndpoint string `yaml:"ws_endpoint"`
	} `yaml:"feed"`
	Monitor struct {
		CheckMs      int     `yaml:"check_ms"`
		ReloadMs     int     `yaml:"reload_ms"`
		RevalueMs    int     `yaml:"revalue_ms"`
		TolerancePct float64 `yaml:"tolerance_pct"`
	} `yaml:"monitor"`
	Notifications struct {
		DismissMs     int  `yaml:"dismiss_ms"`
		SystemEnabled bool `yaml:"system_enabled"`
		Telegram      struct {
			Token  string `yaml:"token"`
			ChatID string `yaml:"chat_id"`
		} `yaml:"telegram"`
	} `yaml:"notifications"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Logging struct {
		Level    string `yaml:"level"`
		FeedFile string `yaml:"feed_file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	// 1. Load Config
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = "monitor.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}

	// 4. Init Price Feed (Binance)
	// The stream logs every reconnect; give it its own file when configured.
	feedLog := log
	if cfg.Logging.FeedFile != "" {
		feedLog, err = logger.NewFileLogger(cfg.Logging.FeedFile, cfg.Logging.Level)
		if err != nil {
			log.Fatal("Failed to init feed logger", zap.Error(err))
		}
	}
	feed := exchange.NewBinanceFeed(cfg.Feed.WSEndpoint, feedLog)
	feed.OnTick(func(tick domain.PriceTick) {
		feedLog.Debug("tick",
			zap.String("pair", tick.Symbol), zap.Float64("price", tick.Price))
	})

	// 5. Init Services
	notifyCfg := usecase.DefaultNotificationConfig()
	if cfg.Notifications.DismissMs > 0 {
		notifyCfg.DismissAfter = time.Duration(cfg.Notifications.DismissMs) * time.Millisecond
	}
	notifyCfg.SystemEnabled = cfg.Notifications.SystemEnabled

	var system domain.SystemNotifier
	if cfg.Notifications.Telegram.Token != "" {
		system = notify.NewTelegramSender(cfg.Notifications.Telegram.Token, cfg.Notifications.Telegram.ChatID)
	}
	navigation := web.NewNavigationBuffer()
	notifications := usecase.NewNotificationCenter(system, navigation, log, notifyCfg)

	thresholdCfg := usecase.DefaultThresholdConfig()
	if cfg.Monitor.RevalueMs > 0 {
		thresholdCfg.RevalueAfter = time.Duration(cfg.Monitor.RevalueMs) * time.Millisecond
	}
	if cfg.Monitor.TolerancePct > 0 {
		thresholdCfg.Tolerance = cfg.Monitor.TolerancePct
	}
	threshold := usecase.NewThresholdMonitor(store, feed, notifications, log, thresholdCfg)
	alerts := usecase.NewAlertEngine(store, feed, notifications, log)

	monitorCfg := usecase.DefaultMonitorConfig()
	if cfg.Monitor.CheckMs > 0 {
		monitorCfg.CheckInterval = time.Duration(cfg.Monitor.CheckMs) * time.Millisecond
	}
	if cfg.Monitor.ReloadMs > 0 {
		monitorCfg.ReloadInterval = time.Duration(cfg.Monitor.ReloadMs) * time.Millisecond
	}
	svc := usecase.NewMonitorService(store, store, feed, threshold, alerts, notifications, log, monitorCfg)

	// 6. Run the monitor loop
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	// 7. Init Web Server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080 // Default
	}
	server := web.NewServer(port, store, store, svc, navigation, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 8. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	cancel()
	server.Shutdown(context.Background())
}
