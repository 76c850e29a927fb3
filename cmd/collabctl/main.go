// collabctl joins a collaboration session from the terminal. It reads
// commands from stdin and prints every event the session delivers.
// Usage: collabctl --url ws://localhost:8090/ws --session sched-1 --user u1
//
// The gateway secret, if the server requires signed identity headers, is
// read from COLLAB_AUTH_SECRET unless --config supplies one.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/schedule-sync/internal/config"
	"github.com/rickgao/schedule-sync/internal/connection"
	"github.com/rickgao/schedule-sync/internal/identity"
	"github.com/rickgao/schedule-sync/internal/version"
)

func main() {
	configPath := flag.String("config", "", "optional config file (client and server.auth_secret sections)")
	url := flag.String("url", "", "server websocket URL (overrides client.url)")
	sessionID := flag.String("session", "", "session (document) id")
	userID := flag.String("user", "", "user id")
	name := flag.String("name", "", "display name")
	role := flag.String("role", identity.RoleEditor, "user role")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	// Setup logger
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	cfg := &config.Config{}
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}
	cfg.ApplyDefaults()
	if *url != "" {
		cfg.Client.URL = *url
	}
	if cfg.Server.AuthSecret == "" {
		cfg.Server.AuthSecret = os.Getenv("COLLAB_AUTH_SECRET")
	}

	who := identity.Identity{UserID: *userID, Name: *name, Role: *role}
	if err := who.Validate(); err != nil || *sessionID == "" || cfg.Client.URL == "" {
		fmt.Fprintln(os.Stderr, "collabctl: --url, --session and --user are required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	mgrCfg := connection.DefaultManagerConfig()
	mgrCfg.URL = cfg.Client.URL
	mgrCfg.Identity = who
	mgrCfg.AuthSecret = cfg.Server.AuthSecret
	mgrCfg.HeartbeatInterval = cfg.Client.HeartbeatInterval
	mgrCfg.ReconnectBaseDelay = cfg.Client.ReconnectBaseDelay
	mgrCfg.MaxReconnectAttempts = cfg.Client.MaxReconnectAttempts
	mgrCfg.ResyncTimeout = cfg.Client.ResyncTimeout
	mgrCfg.EventBuffer = cfg.Client.EventBuffer
	mgrCfg.Client.Header = http.Header{"User-Agent": {version.UserAgent()}}

	mgr := connection.NewManager(mgrCfg, connection.Options{Logger: logger})
	defer mgr.Close()

	connectCtx, connectCancel := context.WithTimeout(ctx, 15*time.Second)
	err := mgr.Connect(connectCtx, *sessionID)
	connectCancel()
	if err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	logger.Info("joined session", "session", *sessionID, "user", who.UserID, "color", identity.Color(who.UserID))

	// Event printer
	go func() {
		for ev := range mgr.Events() {
			fmt.Println(describe(ev))
		}
	}()

	// Command reader
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Println("type help for commands")
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "reconnect" {
				if err := mgr.Connect(ctx, *sessionID); err != nil {
					fmt.Println("error:", err)
				}
				continue
			}
			out, err := execute(mgr, line)
			if errors.Is(err, errQuit) {
				return
			}
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			if out != "" {
				fmt.Println(out)
			}
		}
	}
}
