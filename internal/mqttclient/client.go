// Package mqttclient wraps the paho MQTT client as the inbound transport:
// connect, subscribe, reconnect with a fixed retry interval, and deliver
// messages to a single handler in arrival order.
package mqttclient

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const retryInterval = 3 * time.Second

// Message is one inbound transport event.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler is invoked for each subscribed message. Paho's default ordered
// delivery is kept, so calls arrive one at a time in publish order.
type Handler func(Message)

// Options configures the transport connection.
type Options struct {
	BrokerURL string
	Topic     string
	Username  string
	Password  string
}

// Client is the subscribing MQTT transport.
type Client struct {
	logger *slog.Logger
	opts   Options
	client mqtt.Client
}

// New builds a client. Start must be called to begin connecting.
func New(opts Options, logger *slog.Logger, handler Handler) *Client {
	c := &Client{logger: logger, opts: opts}

	clientID := fmt.Sprintf("meshmap-%s", uuid.NewString()[:8])

	mqttOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryInterval).
		SetMaxReconnectInterval(retryInterval)

	if opts.Username != "" {
		mqttOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		mqttOpts.SetPassword(opts.Password)
	}

	mqttOpts.SetOnConnectHandler(func(client mqtt.Client) {
		logger.Info("connected to mqtt broker", "url", opts.BrokerURL, "client_id", clientID)

		token := client.Subscribe(opts.Topic, 0, func(_ mqtt.Client, m mqtt.Message) {
			handler(Message{Topic: m.Topic(), Payload: m.Payload()})
		})
		go func() {
			token.Wait()
			if err := token.Error(); err != nil {
				logger.Error("subscribe failed", "topic", opts.Topic, "error", err)
				return
			}
			logger.Info("subscribed", "topic", opts.Topic)
		}()
	})

	mqttOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, reconnecting", "error", err)
	})

	c.client = mqtt.NewClient(mqttOpts)
	return c
}

// Start begins connecting in the background. Connection failures are retried
// indefinitely; the server keeps serving its API while disconnected.
func (c *Client) Start() {
	go func() {
		token := c.client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			c.logger.Error("mqtt connect failed", "url", c.opts.BrokerURL, "error", err)
		}
	}()
}

// Stop disconnects from the broker, waiting briefly for in-flight work.
func (c *Client) Stop() {
	if c.client.IsConnectionOpen() {
		c.client.Disconnect(250)
	}
}
