package ingest

import (
	"context"
	"fmt"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"doorguard/internal/config"
)

// StartMQTT subscribes to the sensor topic. The returned client is nil when
// MQTT is disabled; it is disconnected when ctx ends.
func StartMQTT(ctx context.Context, cfg config.MQTTConfig, pub *Publisher, logger *slog.Logger) (mqtt.Client, error) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("mqtt ingest disabled")
		}
		return nil, nil
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	handler := messageHandler(ctx, cfg.Insert, pub, logger)
	// Resubscribe after every reconnect since the session is clean.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if token := c.Subscribe(cfg.Topic, cfg.QoS, handler); token.Wait() && token.Error() != nil {
			if logger != nil {
				logger.Error("mqtt subscribe failed", "topic", cfg.Topic, "err", token.Error())
			}
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if logger != nil {
			logger.Warn("mqtt connection lost", "err", err)
		}
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker: %w", token.Error())
	}
	if logger != nil {
		logger.Info("mqtt ingest enabled", "broker", cfg.Broker, "topic", cfg.Topic, "insert", cfg.Insert)
	}
	go func() {
		<-ctx.Done()
		client.Disconnect(250)
	}()
	return client, nil
}

func messageHandler(ctx context.Context, insert bool, pub *Publisher, logger *slog.Logger) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		HandleMessage(ctx, msg.Payload(), "mqtt", insert, pub, logger)
	}
}
