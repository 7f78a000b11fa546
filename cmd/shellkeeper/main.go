package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/godlykids/shellkeeper/internal/api"
	"github.com/godlykids/shellkeeper/internal/config"
	"github.com/godlykids/shellkeeper/internal/netutil"
	"github.com/godlykids/shellkeeper/internal/notify"
	"github.com/godlykids/shellkeeper/internal/session"
	"github.com/godlykids/shellkeeper/internal/shellbridge"
	"github.com/godlykids/shellkeeper/internal/store"
)

// connectRetryInterval paces attach attempts while the webview target is
// still coming up.
const connectRetryInterval = 2 * time.Second

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

	slog.Info("shellkeeper config loaded",
		"cdp_url", cfg.GetCDPURL(),
		"tab_url_filter", cfg.TabURLFilter,
		"bind_addr", cfg.BindAddr,
		"store_path", cfg.StorePath,
		"in_shell", cfg.InShell,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.BindCandidates, cfg.BindAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		slog.Error("failed to open store", "path", cfg.StorePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	bridge := shellbridge.NewBridge(cfg.GetCDPURL(), cfg.TabURLFilter, cfg.EvalTimeout)
	if err := connectWithRetry(rootCtx, bridge); err != nil {
		slog.Error("failed to attach to webview", "cdp_url", cfg.GetCDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() { _ = bridge.Close() }()

	notifier := notify.New(cfg.NotifyEndpoint, nil)

	keeper := session.NewKeeper(cfg, st, bridge, notifier)
	if err := keeper.Boot(rootCtx); err != nil {
		slog.Error("session boot failed", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(keeper)}

	go func() {
		slog.Info("shellkeeper listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("control API server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	rootCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shellkeeper shutdown failed", "error", err)
	}
}

// connectWithRetry keeps trying until the webview target exists. The agent
// often starts before the shell finishes loading the page.
func connectWithRetry(ctx context.Context, bridge *shellbridge.Bridge) error {
	for {
		err := bridge.Connect(ctx)
		if err == nil {
			return nil
		}
		slog.Warn("webview attach failed, retrying", "error", err, "retry_in", connectRetryInterval)

		select {
		case <-ctx.Done():
			return err
		case <-time.After(connectRetryInterval):
		}
	}
}

func setupLogger(level, filename string) error {
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

	out := io.Writer(os.Stdout)
	if filename != "" {
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
		out = io.MultiWriter(os.Stdout, logWriter)
	}

	h := slog.NewTextHandler(out, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
