package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"gate-scanner/internal/api"
	"gate-scanner/internal/backend"
	"gate-scanner/internal/cache"
	"gate-scanner/internal/config"
	"gate-scanner/internal/heartbeat"
	"gate-scanner/internal/logger"
	"gate-scanner/internal/netwatch"
	"gate-scanner/internal/qr"
	"gate-scanner/internal/queue"
	"gate-scanner/internal/realtime"
	"gate-scanner/internal/scanner"
	"gate-scanner/internal/store"
	"gate-scanner/internal/syncer"
)

func main() {
	_ = godotenv.Load() // Loads .env file if present

	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal("STORE", fmt.Sprintf("failed to open local store: %v", err))
	}
	defer db.Close()

	if err := store.Migrate(ctx, db); err != nil {
		log.Fatal("STORE", fmt.Sprintf("failed to migrate local store: %v", err))
	}

	client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Token, cfg.Backend.Timeout, log)
	ticketCache := cache.New(db, client, cfg.Scanner.CacheStale, log)
	scanQueue := queue.New(db, log)

	watcher := netwatch.New(client.Healthy, cfg.Backend.ProbeEvery, cfg.Backend.ProbeTimeout, log)

	var codec *qr.Codec
	if cfg.Scanner.QRSecretKey != "" {
		codec = qr.NewCodec(cfg.Scanner.QRSecretKey)
	} else {
		log.Warn("SCAN", "QR_SECRET_KEY not set, QR scans will be rejected as invalid")
	}

	session := scanner.NewSession(ticketCache, scanQueue, client, codec, scanner.SessionConfig{
		EventID:     cfg.Scanner.EventID,
		Gate:        cfg.Scanner.GateName,
		Cooldown:    cfg.Scanner.Cooldown,
		HistorySize: cfg.Scanner.HistorySize,
		Online:      watcher.Online,
	}, log)

	engine := syncer.New(scanQueue, ticketCache, client, cfg.Scanner.GateName, watcher.Online, log)

	// Reconnection drains the queue and refreshes the snapshot.
	watcher.Subscribe(func(online bool) {
		if !online {
			return
		}
		if _, err := engine.Sync(ctx); err != nil && err != syncer.ErrSyncRunning {
			log.Error("SYNC", fmt.Sprintf("drain on reconnect failed: %v", err))
		}
		if cfg.Scanner.EventID != "" {
			ticketCache.Refresh(ctx, cfg.Scanner.EventID, false)
		}
	})
	watcher.Start()
	defer watcher.Stop()

	startTimers(ctx, cfg, ticketCache, scanQueue, watcher, log)

	if cfg.Kafka.Enabled {
		consumer := realtime.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, log)
		defer consumer.Close()
		go consumer.Start(ctx, func(event realtime.TicketEvent) {
			if cfg.Scanner.EventID != "" && event.EventID == cfg.Scanner.EventID && watcher.Online() {
				ticketCache.Refresh(ctx, cfg.Scanner.EventID, true)
			}
		})
	}

	if cfg.Redis.Enabled {
		if redisClient, err := heartbeat.NewClient(cfg.Redis.Addr, log); err == nil {
			emitter := heartbeat.NewEmitter(redisClient, cfg.Heartbeat.Interval, func(ctx context.Context) heartbeat.Stats {
				counts, _ := scanQueue.CountByState(ctx)
				return heartbeat.Stats{
					DeviceID:   cfg.Heartbeat.DeviceID,
					Gate:       cfg.Scanner.GateName,
					EventID:    cfg.Scanner.EventID,
					ScansToday: session.ScansToday(),
					Pending:    counts.Pending,
					Online:     watcher.Online(),
					At:         time.Now(),
				}
			}, log)
			emitter.Start()
			defer emitter.Stop()
		}
	}

	handler := &api.Handler{
		Session: session,
		Sync:    engine,
		Cache:   ticketCache,
		Watcher: watcher,
		Logger:  log,
	}

	r := chi.NewRouter()
	r.Get("/healthz", handler.Healthz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/scan", handler.ProcessScan)
		r.Post("/sync/now", handler.SyncNow)
		r.Get("/sync/status", handler.SyncStatus)
		r.Get("/history", handler.History)
		r.Get("/events/{eventID}/stats", handler.EventStats)
		r.Post("/events/{eventID}/refresh", handler.RefreshCache)
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", fmt.Sprintf("🚀 Gate scanner on %s (gate=%s)", cfg.Server.Port, cfg.Scanner.GateName))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("HTTP error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = server.Shutdown(ctxShutdown)
	log.Info("SERVER", "✅ Gate scanner shutdown complete")
}

// startTimers runs the periodic background work: cache staleness checks and
// queue pruning. Each tick tolerates the device being offline.
func startTimers(ctx context.Context, cfg *config.Config, ticketCache *cache.Cache, scanQueue *queue.Queue, watcher *netwatch.Watcher, log *logger.Logger) {
	go func() {
		ticker := time.NewTicker(cfg.Scanner.CacheStale / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if cfg.Scanner.EventID != "" && watcher.Online() {
					ticketCache.Refresh(ctx, cfg.Scanner.EventID, false)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.Scanner.PruneEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := scanQueue.Prune(ctx, cfg.Scanner.Retention); err != nil {
					log.Error("QUEUE", fmt.Sprintf("prune failed: %v", err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
