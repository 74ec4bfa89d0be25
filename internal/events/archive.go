package events

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/toolvet/toolvet/internal/review/model"
)

const (
	archiveBufferSize    = 4096
	archiveFlushInterval = time.Second
	archiveFlushBatch    = 256
	archiveDrainTimeout  = 2 * time.Second
)

// Archiver persists workflow events to ClickHouse for long-term analysis.
// Handle() is non-blocking: events are buffered and batch-inserted by a
// background goroutine, and dropped with a warning if the buffer fills.
type Archiver struct {
	conn    driver.Conn
	buffer  chan model.Event
	done    chan struct{}
	flushed chan struct{}
	logger  *zap.Logger
}

// NewArchiver connects to ClickHouse and starts the background flush loop.
func NewArchiver(dsn string, logger *zap.Logger) (*Archiver, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, err
	}

	a := &Archiver{
		conn:    conn,
		buffer:  make(chan model.Event, archiveBufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}
	go a.flushLoop()
	return a, nil
}

func (a *Archiver) Name() string { return "clickhouse-archive" }

// Handle implements Handler by queueing the event for async insertion.
func (a *Archiver) Handle(_ context.Context, event model.Event) error {
	select {
	case a.buffer <- event:
	default:
		a.logger.Warn("event archive buffer full, dropping event",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", string(event.Type)),
		)
	}
	return nil
}

// Close signals the flush loop to drain remaining events and waits for it.
func (a *Archiver) Close() {
	close(a.done)
	<-a.flushed
}

func (a *Archiver) flushLoop() {
	defer close(a.flushed)

	ticker := time.NewTicker(archiveFlushInterval)
	defer ticker.Stop()

	batch := make([]model.Event, 0, archiveFlushBatch)

	for {
		select {
		case event := <-a.buffer:
			batch = append(batch, event)
			if len(batch) >= archiveFlushBatch {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-a.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), archiveDrainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-a.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				a.flush(batch)
			}
			return
		}
	}
}

func (a *Archiver) flush(events []model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO review_events (
			event_id, event_type, review_id, tool_uri, timestamp, payload
		)
	`)
	if err != nil {
		a.logger.Error("event archive prepare batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		payload := e.Payload
		if payload == nil {
			payload = map[string]string{}
		}
		if err := batch.Append(
			e.ID.String(),
			string(e.Type),
			e.ReviewID.String(),
			e.ToolURI,
			e.Timestamp,
			payload,
		); err != nil {
			a.logger.Error("event archive append failed",
				zap.String("event_id", e.ID.String()),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		a.logger.Error("event archive batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}
