// Package archive streams every interpreted trace message into ClickHouse
// for later analysis. The writer batches on a channel; ingest never blocks
// on the archive.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Message is one interpreted trace message bound for long-term storage.
type Message struct {
	IngestedAt time.Time
	JobID      string
	VehicleID  string
	TraceTime  string
	Direction  string
	Source     string
	Target     string
	Service    uint8
	Payload    string
}

type Options struct {
	Addr      string
	Database  string
	Username  string
	Password  string
	Table     string
	BatchSize int
}

func (o *Options) normalize() {
	if o.Table == "" {
		o.Table = "raw_messages"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
}

type Writer struct {
	conn    driver.Conn
	table   string
	logger  *slog.Logger
	size    int
	batch   []Message
	ch      chan Message
	dropped atomic.Int64
	cancel  context.CancelFunc
	done    chan struct{}
}

// New connects, creates the table if needed and starts the flush loop.
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Writer, error) {
	opts.normalize()
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	if err := createTable(ctx, conn, opts.Table); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		conn:   conn,
		table:  opts.Table,
		logger: logger,
		size:   opts.BatchSize,
		batch:  make([]Message, 0, opts.BatchSize),
		ch:     make(chan Message, opts.BatchSize*2),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(runCtx)
	return w, nil
}

func createTable(ctx context.Context, conn driver.Conn, table string) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			ingested_at DateTime64(3),
			job_id      String,
			vehicle_id  String,
			trace_time  String,
			direction   LowCardinality(String),
			source      LowCardinality(String),
			target      LowCardinality(String),
			service     UInt8,
			payload     String
		) ENGINE = MergeTree()
		ORDER BY (ingested_at, job_id)
		PARTITION BY toYYYYMMDD(ingested_at)
		TTL toDateTime(ingested_at) + INTERVAL 3 MONTH
	`, table)
	return conn.Exec(ctx, query)
}

// Write queues a message. When the buffer is full the message is dropped and
// counted; ingest latency is never tied to archive latency.
func (w *Writer) Write(msg Message) {
	if msg.IngestedAt.IsZero() {
		msg.IngestedAt = time.Now()
	}
	select {
	case w.ch <- msg:
	default:
		w.dropped.Add(1)
	}
}

// Dropped reports how many messages were discarded on a full buffer.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush()
			return
		case msg := <-w.ch:
			w.batch = append(w.batch, msg)
			if len(w.batch) >= w.size {
				w.flush()
			}
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Writer) flush() {
	if len(w.batch) == 0 {
		return
	}

	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO "+w.table)
	if err != nil {
		w.logger.Warn("archive prepare batch failed", "error", err)
		w.batch = w.batch[:0]
		return
	}
	for _, msg := range w.batch {
		err := batch.Append(
			msg.IngestedAt,
			msg.JobID,
			msg.VehicleID,
			msg.TraceTime,
			msg.Direction,
			msg.Source,
			msg.Target,
			msg.Service,
			msg.Payload,
		)
		if err != nil {
			w.logger.Warn("archive append failed", "error", err)
			w.batch = w.batch[:0]
			return
		}
	}
	if err := batch.Send(); err != nil {
		w.logger.Warn("archive send failed", "error", err, "messages", len(w.batch))
	} else {
		w.logger.Debug("archive flushed", "messages", len(w.batch))
	}
	w.batch = w.batch[:0]
}

// Close flushes what is buffered and closes the connection.
func (w *Writer) Close() error {
	w.cancel()
	<-w.done
	return w.conn.Close()
}
