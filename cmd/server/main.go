package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sessionpulse/backend/internal/blocks"
	"github.com/sessionpulse/backend/internal/config"
	"github.com/sessionpulse/backend/internal/hub"
	"github.com/sessionpulse/backend/internal/logger"
	"github.com/sessionpulse/backend/internal/mirror"
	"github.com/sessionpulse/backend/internal/mock"
	"github.com/sessionpulse/backend/internal/monitor"
	"github.com/sessionpulse/backend/internal/server"
	"github.com/sessionpulse/backend/internal/session"
)

func main() {
	mockMode := flag.Bool("mock", false, "Feed synthetic session data instead of monitoring transcripts")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	// Optional .env for local secrets; missing file is fine.
	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	log := logger.New(cfg.Logging)

	store := session.NewStore()
	calc := blocks.NewCalculator(cfg.Blocks.Duration)
	snapshots := server.NewSnapshotProvider(store, calc, cfg.Blocks.RecentSessions)

	h := hub.New(hub.Config{
		PingInterval:     cfg.Hub.PingInterval,
		PingTimeout:      cfg.Hub.PingTimeout,
		MonitorInterval:  cfg.Hub.MonitorInterval,
		MaxMissedPings:   cfg.Hub.MaxMissedPings,
		HistorySize:      cfg.Hub.HistorySize,
		ClientQueueSize:  cfg.Hub.ClientQueueSize,
		QueueTTL:         cfg.Hub.QueueTTL,
		SendFailureLimit: cfg.Hub.SendFailureLimit,
	}, snapshots, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mir *mirror.Mirror
	if cfg.NATS.URL != "" {
		mir, err = mirror.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			log.Warn().Err(err).Msg("running without NATS mirror")
		} else {
			defer mir.Close()
			h.SetMirror(mir)
			if cfg.NATS.IngestSubject != "" {
				if err := mir.BridgeIngest(h, cfg.NATS.IngestSubject); err != nil {
					log.Warn().Err(err).Msg("NATS ingest bridge unavailable")
				}
			}
		}
	}

	go h.Run(ctx)

	if *mockMode {
		log.Info().Msg("starting in mock mode")
		gen := mock.NewGenerator(store, h)
		gen.Start(ctx)
	} else {
		sources := []monitor.Source{
			monitor.NewClaudeSource("", cfg.Monitor.DiscoverWindow),
		}
		mon := monitor.New(cfg, store, h, sources, log)
		go mon.Start(ctx)
	}

	mux := http.NewServeMux()
	srv := server.New(cfg, h, snapshots, log)
	srv.SetupRoutes(mux)

	httpServer := &http.Server{
		Addr:    server.Addr(cfg),
		Handler: mux,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", httpServer.Addr).Msg("server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
}
