// Package netwatch tracks backend reachability for the scanner and fans out
// connectivity_changed events to subscribers (sync engine, cache refresh).
package netwatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gate-scanner/internal/logger"
)

// Probe answers whether the backend is reachable right now.
type Probe func(ctx context.Context) bool

// Watcher polls the probe on a ticker and notifies subscribers on
// transitions. Subscribers run on their own goroutine so a slow handler
// cannot stall the watch loop or an in-flight scan.
type Watcher struct {
	probe        Probe
	interval     time.Duration
	probeTimeout time.Duration
	logger       *logger.Logger

	mu          sync.Mutex
	online      bool
	nextID      int
	subscribers map[int]func(online bool)
	stop        chan struct{}
	stopped     bool
}

func New(probe Probe, interval, probeTimeout time.Duration, log *logger.Logger) *Watcher {
	return &Watcher{
		probe:        probe,
		interval:     interval,
		probeTimeout: probeTimeout,
		logger:       log,
		subscribers:  map[int]func(online bool){},
		stop:         make(chan struct{}),
	}
}

// Online reports the last observed state.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Subscribe registers a handler for connectivity transitions and returns an
// id for Unsubscribe.
func (w *Watcher) Subscribe(fn func(online bool)) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	w.subscribers[w.nextID] = fn
	return w.nextID
}

func (w *Watcher) Unsubscribe(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.subscribers, id)
}

// Start runs the watch loop until Stop. The first probe runs immediately so
// startup state is known before the first scan.
func (w *Watcher) Start() {
	go func() {
		w.check()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.check()
			case <-w.stop:
				return
			}
		}
	}()
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.stop)
	}
}

func (w *Watcher) check() {
	ctx, cancel := context.WithTimeout(context.Background(), w.probeTimeout)
	online := w.probe(ctx)
	cancel()

	w.mu.Lock()
	changed := online != w.online
	w.online = online
	var handlers []func(online bool)
	if changed {
		for _, fn := range w.subscribers {
			handlers = append(handlers, fn)
		}
	}
	w.mu.Unlock()

	if !changed {
		return
	}
	if w.logger != nil {
		w.logger.Info("NETWATCH", fmt.Sprintf("connectivity changed: online=%t", online))
	}
	for _, fn := range handlers {
		go fn(online)
	}
}
