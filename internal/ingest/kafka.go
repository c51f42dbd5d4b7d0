package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"doorguard/internal/config"
	"doorguard/internal/normalize"
)

func StartKafka(ctx context.Context, cfg config.KafkaConfig, pub *Publisher, logger *slog.Logger) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID, "insert", cfg.Insert)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			HandleMessage(ctx, m.Value, "kafka", cfg.Insert, pub, logger)
		}
	}()
}

// HandleMessage decodes one JSON reading payload and publishes it.
func HandleMessage(ctx context.Context, payload []byte, source string, insert bool, pub *Publisher, logger *slog.Logger) bool {
	fields, err := ParseJSONBytes(payload)
	if err != nil {
		if logger != nil {
			logger.Warn("reading payload is not json", "source", source, "err", err)
		}
		return false
	}
	fields.Source = source
	reading, err := normalize.Normalize(*fields, pub.loc)
	if err != nil {
		if logger != nil {
			logger.Warn("reading normalize error", "source", source, "err", err)
		}
		return false
	}
	if insert {
		reading.ID = 0
	}
	if _, err := pub.Publish(ctx, reading, insert); err != nil {
		if logger != nil {
			logger.Error("reading insert failed", "source", source, "err", err)
		}
		return false
	}
	return true
}
