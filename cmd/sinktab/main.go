package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sinktab/sinktab/internal/api"
	"github.com/sinktab/sinktab/internal/browser"
	"github.com/sinktab/sinktab/internal/config"
	"github.com/sinktab/sinktab/internal/devmem"
	"github.com/sinktab/sinktab/internal/netutil"
	"github.com/sinktab/sinktab/internal/notify"
	"github.com/sinktab/sinktab/internal/router"
	"github.com/sinktab/sinktab/internal/rules"
	"github.com/sinktab/sinktab/internal/sinkcdp"
	"github.com/sinktab/sinktab/internal/tabwatch"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("config loaded",
		"cdp_url", cfg.CDPURL(),
		"bind_addr", cfg.BindAddr,
		"rules_file", cfg.RulesFile,
		"eval_timeout_ms", cfg.EvalTimeoutMS,
		"picker_timeout_ms", cfg.PickerTimeoutMS,
		"launch_browser", cfg.LaunchBrowser,
		"log_level", cfg.LogLevel,
	)

	if cfg.LaunchBrowser {
		startURLs := loadStartupURLs(cfg.StartupPagesFile)
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			Binary:     cfg.BrowserBinary,
			ProfileDir: cfg.BrowserUserDir,
			StartURLs:  startURLs,
		})
		launchCtx, launchCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := launcher.Launch(launchCtx); err != nil {
			launchCancel()
			slog.Error("browser launch failed", "error", err)
			os.Exit(1)
		}
		launchCancel()
		if launcher.Running() {
			defer launcher.Stop()
		}
	}

	ruleStore, err := rules.NewStore(cfg.RulesFile)
	if err != nil {
		slog.Error("failed to open rules store", "path", cfg.RulesFile, "error", err)
		os.Exit(1)
	}

	mem := devmem.NewStore()

	cdpClient := sinkcdp.NewClient(cfg.CDPURL(),
		time.Duration(cfg.EvalTimeoutMS)*time.Millisecond,
		time.Duration(cfg.PickerTimeoutMS)*time.Millisecond)
	if err := cdpClient.Connect(context.Background()); err != nil {
		slog.Error("failed to connect to CDP", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() { _ = cdpClient.Close() }()

	var notifier router.Notifier
	if n := notify.NewNotifier(cfg.NotifyURL); n.Enabled() {
		notifier = n
	}

	svc := router.NewService(cdpClient, mem, ruleStore, notifier,
		time.Duration(cfg.RouteTimeoutMS)*time.Millisecond)

	// Watcher reports drive audibility-triggered routing.
	cdpClient.SetReportHandler(func(tabID string, rep sinkcdp.WatchReport) {
		svc.HandleWatchReport(tabID, rep.Event)
	})

	watcher := tabwatch.NewWatcher(cfg.CDPURL(), tabwatch.Hooks{
		OnNavigated: func(tabID, url string) {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(),
					time.Duration(cfg.RouteTimeoutMS)*time.Millisecond)
				defer cancel()
				svc.OnTabBecameRelevant(ctx, tabID, url)
			}()
		},
		OnTabClosed: func(tabID string) {
			svc.OnTabClosed(tabID)
			cdpClient.OnTabClosed(tabID)
		},
	})
	if err := watcher.Start(context.Background()); err != nil {
		slog.Error("failed to start tab watcher", "error", err)
		os.Exit(1)
	}
	defer func() { _ = watcher.Close() }()

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, nil, false)
	if err != nil {
		slog.Error("failed to bind", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(svc)}

	go func() {
		slog.Info("sinktab listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
}

// loadStartupURLs reads the optional startup-pages file; absence is not
// an error.
func loadStartupURLs(path string) []string {
	pages, err := config.LoadStartupPages(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("startup pages file unreadable", "path", path, "error", err)
		}
		return nil
	}
	urls := make([]string, 0, len(pages.Pages))
	for _, p := range pages.Pages {
		urls = append(urls, p.URL)
	}
	return urls
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
