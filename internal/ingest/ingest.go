package ingest

import (
	"context"
	"log/slog"
	"time"

	"doorguard/internal/model"
)

// ReadingWriter persists a reading and returns it with its store-assigned id.
type ReadingWriter interface {
	InsertReading(ctx context.Context, r model.Reading) (model.Reading, error)
}

// Publisher feeds the push channel. With insert set, a reading is stored
// first and the stored row is what gets emitted.
type Publisher struct {
	out    chan<- model.Reading
	store  ReadingWriter
	loc    *time.Location
	logger *slog.Logger
}

func NewPublisher(out chan<- model.Reading, store ReadingWriter, loc *time.Location, logger *slog.Logger) *Publisher {
	if loc == nil {
		loc = time.UTC
	}
	return &Publisher{out: out, store: store, loc: loc, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, r model.Reading, insert bool) (model.Reading, error) {
	if insert && p.store != nil {
		stored, err := p.store.InsertReading(ctx, r)
		if err != nil {
			return r, err
		}
		r = stored
	}
	SendNonBlocking(ctx, p.out, r, p.logger)
	return r, nil
}

func SendNonBlocking(ctx context.Context, out chan<- model.Reading, r model.Reading, logger *slog.Logger) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("reading channel full, dropping push event", "reading_id", r.ID, "recorded_at", r.RecordedAt)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
