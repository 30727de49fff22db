// Package mqtt bridges the switchers to an MQTT broker: Home Assistant
// discovery configs, retained state topics and command topics.
package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var (
	ErrConnectionFailed = errors.New("mqtt connection failed")
	ErrNotConnected     = errors.New("mqtt not connected")
	ErrPublishFailed    = errors.New("mqtt publish failed")
	ErrSubscribeFailed  = errors.New("mqtt subscribe failed")
)

const (
	connectTimeout    = 10 * time.Second
	operationTimeout  = 5 * time.Second
	keepAlive         = 60 * time.Second
	maxReconnectDelay = 2 * time.Minute
	disconnectQuiesce = 1000 // milliseconds
	qos               = 1
)

// MessageHandler receives messages of a subscribed topic. It runs on a paho
// goroutine.
type MessageHandler func(topic string, payload []byte)

// Publisher is the broker connection used by the bridge
type Publisher interface {
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, handler MessageHandler) error
	Close()
}

// Options configures the broker connection
type Options struct {
	Broker   string // e.g. tcp://mqtt.local:1883
	ClientID string
	Username string
	Password string

	// WillTopic receives OfflinePayload when the connection drops and
	// OnlinePayload after every (re)connect, both retained
	WillTopic string
}

// Client wraps paho.mqtt.golang. Subscriptions are restored on reconnect.
type Client struct {
	client pahomqtt.Client
	opts   Options
	logger *zap.Logger

	subMu         sync.RWMutex
	subscriptions map[string]MessageHandler
}

func buildClientOptions(o Options) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(maxReconnectDelay)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	// Each message handler gets its own goroutine and may block
	opts.SetOrderMatters(false)
	if o.WillTopic != "" {
		opts.SetWill(o.WillTopic, OfflinePayload, qos, true)
	}
	return opts
}

// Connect connects to the broker and waits for the first connection
func Connect(o Options, logger *zap.Logger) (*Client, error) {
	c := newClient(o, logger)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.logger.Info("Connected to MQTT broker", zap.String("broker", o.Broker))
	return c, nil
}

func newClient(o Options, logger *zap.Logger) *Client {
	c := &Client{
		opts:          o,
		logger:        logger.Named("mqtt"),
		subscriptions: make(map[string]MessageHandler),
	}

	opts := buildClientOptions(o)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.logger.Warn("MQTT connection lost", zap.Error(err))
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.logger.Info("Reconnecting to MQTT broker", zap.String("broker", o.Broker))
	})

	c.client = pahomqtt.NewClient(opts)
	return c
}

// handleConnect restores subscriptions and announces the bridge
func (c *Client) handleConnect() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for topic, handler := range c.subscriptions {
		c.client.Subscribe(topic, qos, wrap(handler))
	}
	if c.opts.WillTopic != "" {
		c.client.Publish(c.opts.WillTopic, qos, true, OnlinePayload)
	}
}

func wrap(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}
}

// Publish sends payload to topic with QoS 1
func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return fmt.Errorf("%w: publish %s", ErrNotConnected, topic)
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("%w: %s: timeout", ErrPublishFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// Subscribe registers handler for topic
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	c.subMu.Lock()
	c.subscriptions[topic] = handler
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, wrap(handler))
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("%w: %s: timeout", ErrSubscribeFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// Close announces a graceful shutdown and disconnects
func (c *Client) Close() {
	if c.client == nil {
		return
	}
	if c.opts.WillTopic != "" && c.client.IsConnectionOpen() {
		token := c.client.Publish(c.opts.WillTopic, qos, true, OfflinePayload)
		token.WaitTimeout(operationTimeout)
	}
	c.client.Disconnect(disconnectQuiesce)
	c.logger.Info("Disconnected from MQTT broker")
}
