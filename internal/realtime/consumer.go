// Package realtime consumes the backend's ticket-mutation channel. The
// dashboards are the primary consumers; the scanner listens only to keep its
// cache fresh opportunistically between refresh timers.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"gate-scanner/internal/logger"
)

// TicketEvent is a ticket/order mutation published by the backend.
type TicketEvent struct {
	TicketID string `json:"ticket_id"`
	EventID  string `json:"event_id"`
	Action   string `json:"action"`
}

type Consumer struct {
	reader *kafka.Reader
	logger *logger.Logger
}

func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, logger: log}
}

// Start consumes until ctx is cancelled. Read errors are logged and retried;
// a venue with flaky Wi-Fi must not take the scanner down with it.
func (c *Consumer) Start(ctx context.Context, handler func(event TicketEvent)) {
	if c.logger != nil {
		c.logger.Info("REALTIME", "ticket change consumer started")
	}

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if c.logger != nil {
				c.logger.Warn("REALTIME", fmt.Sprintf("read failed: %v", err))
			}
			continue
		}

		var event TicketEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			if c.logger != nil {
				c.logger.Warn("REALTIME", fmt.Sprintf("failed to unmarshal event: %v", err))
			}
			continue
		}

		handler(event)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
