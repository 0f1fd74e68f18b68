// Package events is the NATS-backed message bus: trace arrival in, job and
// discovery lifecycle out.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectTraceStored announces that a trace session is ready for ingest.
	SubjectTraceStored = "diag.trace.stored"
	// SubjectJobCompleted reports a finished (or failed) ingest job.
	SubjectJobCompleted = "diag.job.completed"
	// SubjectDiscoveryCompleted reports what one discovery run contributed.
	SubjectDiscoveryCompleted = "diag.discovery.completed"
)

// TraceStoredEvent carries a trace session to process. Content is the inline
// trace text; when empty, Path points at a file on shared storage.
type TraceStoredEvent struct {
	VehicleID string `json:"vehicle_id"`
	Name      string `json:"name,omitempty"`
	Path      string `json:"path,omitempty"`
	Content   string `json:"content,omitempty"`
}

// JobCompletedEvent is published after every ingest run, successful or not.
type JobCompletedEvent struct {
	JobID       string `json:"job_id"`
	VehicleID   string `json:"vehicle_id"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	Lines       int    `json:"lines"`
	Messages    int    `json:"messages"`
	ECUs        int    `json:"ecus"`
	Definitions int    `json:"definitions"`
}

// DiscoveryCompletedEvent summarizes the knowledge a run added.
type DiscoveryCompletedEvent struct {
	JobID          string `json:"job_id"`
	VehicleID      string `json:"vehicle_id"`
	ECUs           int    `json:"ecus"`
	NewDefinitions int    `json:"new_definitions"`
	Patterns       int    `json:"patterns"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
