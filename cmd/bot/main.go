package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	// Self-registering handler plugins.
	_ "plugbot/internal/handlers/aichat"
	_ "plugbot/internal/handlers/weather"

	"plugbot/internal/config"
	"plugbot/internal/credit"
	"plugbot/internal/dispatch"
	"plugbot/internal/filter"
	"plugbot/internal/gateway"
	"plugbot/internal/handlers/credits"
	"plugbot/internal/handlers/menu"
	"plugbot/internal/logging"
	"plugbot/internal/message"
	"plugbot/internal/plugin"
	"plugbot/internal/storage"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := logging.Setup(cfg.LogLevel, cfg.LogFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store storage.Store
	switch cfg.LedgerBackend {
	case "sqlite":
		store, err = storage.NewSQLiteStore(cfg.SQLitePath)
	default:
		store, err = storage.NewJSONStore(cfg.StoragePath, log)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("open storage")
	}
	defer store.Close()

	ledger := credit.NewLedger(store)
	reg := plugin.NewRegistry(cfg.PluginDir, log)

	// Handlers that need live collaborators register here; the rest
	// self-register in their init().
	plugin.RegisterFactory(credits.Factory{Ledger: ledger, Store: store})
	plugin.RegisterFactory(menu.Factory{Registry: reg})

	if err := reg.Bootstrap(cfg.DisabledPlugins); err != nil {
		log.Warn().Err(err).Msg("some plugins failed to load at startup")
	}

	if cfg.WatchPlugins {
		watcher := plugin.NewWatcher(reg, log)
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("plugin watcher stopped")
			}
		}()
	}

	filt := filter.New(filter.ParseMode(cfg.FilterMode), filterIDs(cfg))
	gw := gateway.New(256)
	d := dispatch.New(cfg, filt, reg, ledger, gw, log)

	done := make(chan struct{})
	go func() {
		d.Run(ctx, gw)
		close(done)
	}()
	go printOutbound(gw)
	go readStdin(ctx, gw)

	log.Info().Strs("plugins", reg.Snapshot().Names()).Msg("bot started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutdown signal received")
	gw.CloseInbound()
	cancel()
	<-done
}

func filterIDs(cfg *config.Config) []string {
	if cfg.FilterMode == "blacklist" {
		return cfg.Blacklist
	}
	return cfg.Whitelist
}

// readStdin is the development transport: each line is "<sender> <text>",
// chat equals sender. Real deployments replace this with a gateway adapter.
func readStdin(ctx context.Context, gw *gateway.Gateway) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		sender, text, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		msg := message.Message{
			Sender:  sender,
			Chat:    sender,
			Text:    text,
			Arrived: time.Now(),
		}
		if err := gw.Inject(ctx, msg); err != nil {
			return
		}
	}
}

func printOutbound(gw *gateway.Gateway) {
	for resp := range gw.Outbound() {
		fmt.Printf("[%s] %s\n", resp.Chat, resp.Text)
	}
}
