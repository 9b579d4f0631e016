// Package heartbeat reports device liveness to the ops console through a
// TTL'd Redis key. Strictly best-effort: an offline device logs and
// continues, it never blocks scanning.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"gate-scanner/internal/logger"
)

// Stats is gathered from the session and queue each beat.
type Stats struct {
	DeviceID   string    `json:"device_id"`
	Gate       string    `json:"gate"`
	EventID    string    `json:"event_id,omitempty"`
	ScansToday int       `json:"scans_today"`
	Pending    int       `json:"pending"`
	Online     bool      `json:"online"`
	At         time.Time `json:"at"`
}

// Source supplies the current stats; wired to the session controller and
// offline queue in main.
type Source func(ctx context.Context) Stats

type Emitter struct {
	client   *redis.Client
	interval time.Duration
	source   Source
	logger   *logger.Logger
	stop     chan struct{}
}

// NewClient builds the Redis client and verifies the connection once so a
// misconfigured address shows up in logs at startup.
func NewClient(addr string, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		PoolSize: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		if log != nil {
			log.Warn("HEARTBEAT", fmt.Sprintf("redis unreachable at %s: %v", addr, err))
		}
		return nil, err
	}
	return client, nil
}

func NewEmitter(client *redis.Client, interval time.Duration, source Source, log *logger.Logger) *Emitter {
	return &Emitter{
		client:   client,
		interval: interval,
		source:   source,
		logger:   log,
		stop:     make(chan struct{}),
	}
}

// Start beats on a ticker until Stop. The key expires after two missed
// beats, which is how the console detects a dead device.
func (e *Emitter) Start() {
	go func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.beat()
			case <-e.stop:
				return
			}
		}
	}()
}

func (e *Emitter) Stop() {
	close(e.stop)
}

func (e *Emitter) beat() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	stats := e.source(ctx)
	payload, err := json.Marshal(stats)
	if err != nil {
		return
	}

	key := "scanner:heartbeat:" + stats.DeviceID
	if err := e.client.Set(ctx, key, payload, 2*e.interval).Err(); err != nil {
		if e.logger != nil {
			e.logger.Warn("HEARTBEAT", fmt.Sprintf("emit failed: %v", err))
		}
	}
}
