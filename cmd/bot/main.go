// Telegram bot daemon for a personal cloud disk.
//
// Features:
// - Inline folder browsing with compact callback tokens
// - Chunked uploads to the disk with live progress
// - Public link publishing and confirmed deletes
// - GitHub webhook mirroring into chat
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/Iskam31/YADISKTGBOT/internal/bot"
	"github.com/Iskam31/YADISKTGBOT/internal/config"
	"github.com/Iskam31/YADISKTGBOT/internal/creds"
	"github.com/Iskam31/YADISKTGBOT/internal/github"
	"github.com/Iskam31/YADISKTGBOT/internal/logging"
	"github.com/Iskam31/YADISKTGBOT/internal/metrics"
	"github.com/Iskam31/YADISKTGBOT/internal/navigator"
	"github.com/Iskam31/YADISKTGBOT/internal/remote"
	"github.com/Iskam31/YADISKTGBOT/internal/remote/s3disk"
	"github.com/Iskam31/YADISKTGBOT/internal/remote/webdisk"
	"github.com/Iskam31/YADISKTGBOT/internal/secrets"
	"github.com/Iskam31/YADISKTGBOT/internal/session"
	"github.com/Iskam31/YADISKTGBOT/internal/store"
	"github.com/Iskam31/YADISKTGBOT/internal/transfer"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("disk bot starting...",
		zap.String("backend", cfg.RemoteBackend),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	logging.Info("connecting to PostgreSQL...")
	records, err := store.New(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer records.Close()

	// Run migrations
	migrationsDir := findMigrationsDir()
	if migrationsDir != "" {
		logging.Info("running migrations...", zap.String("dir", migrationsDir))
		if err := records.Migrate(migrationsDir); err != nil {
			logging.Fatal("migration failed", zap.Error(err))
		}
	}

	// Secrets at rest
	box, err := secrets.NewBox(cfg.EncryptionKey)
	if err != nil {
		logging.Fatal("encryption key invalid", zap.Error(err))
	}
	resolver := creds.NewResolver(records, box)

	// Remote disk backend
	var opener remote.Opener
	switch cfg.RemoteBackend {
	case "s3":
		opener = s3disk.NewOpener()
	default:
		opener = webdisk.NewOpener(cfg.WebDiskBaseURL)
	}
	logging.Info("remote backend ready", zap.String("backend", cfg.RemoteBackend))

	// Telegram API client
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		logging.Fatal("telegram authorization failed", zap.Error(err))
	}
	logging.Info("authorized on telegram", zap.String("username", api.Self.UserName))

	sessions := session.NewStore()
	nav := navigator.New(opener, resolver, cfg.PageSize)
	transport := bot.NewTransport(api, nil)
	pipeline := transfer.New(transfer.Config{
		TempDir:       cfg.TempDir,
		MaxUploadSize: cfg.MaxUploadSize,
	}, opener, resolver, transport, records)

	// GitHub mirroring (optional)
	var gh *github.Manager
	if cfg.WebhooksEnabled() {
		gh = github.NewManager(records, box, cfg.JWTSecret, cfg.PublicBaseURL)
	}

	b := bot.New(api, bot.Config{
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	}, bot.Deps{
		Sessions:    sessions,
		Navigator:   nav,
		Pipeline:    pipeline,
		Credentials: resolver,
		Records:     records,
		Opener:      opener,
		GitHub:      gh,
	})

	// Webhook receiver, delivering through the bot
	var webhookServer *http.Server
	if gh != nil {
		webhookServer = &http.Server{
			Addr:    cfg.ListenAddr,
			Handler: github.NewServer(gh, records, box, b).Handler(),
		}
		go func() {
			logging.Info("webhook server listening", zap.String("addr", cfg.ListenAddr))
			if err := webhookServer.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("webhook server error", zap.Error(err))
			}
		}()
	}

	// Metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Sweep abandoned temp files
	janitor := transfer.NewJanitor(cfg.TempDir, cfg.TempMaxAge)
	go janitor.Run(ctx, time.Hour)

	// Periodic gauge updates
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				records.UpdateConnectionMetrics()
				metrics.SetActiveSessions(sessions.Count())
			}
		}
	}()

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		if webhookServer != nil {
			webhookServer.Close()
		}
		metricsServer.Close()
	}()

	b.Start(ctx)
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
