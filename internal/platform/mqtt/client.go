// Package mqtt builds paho MQTT clients from configuration.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Config describes the broker connection.
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// New connects to the broker. onConnect runs after every (re)connect, which
// is where subscriptions must be (re)established.
func New(ctx context.Context, cfg Config, onConnect paho.OnConnectHandler, logger *zap.Logger) (paho.Client, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt: broker url is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOnConnectHandler(onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		})

	client := paho.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", cfg.BrokerURL, err)
	}
	return client, nil
}
