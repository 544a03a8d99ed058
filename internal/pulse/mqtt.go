package pulse

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/HerbHall/lockwatch/pkg/models"
)

const notifyQueueSize = 64

// MQTTConfig configures the alert notifier connection.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

// Publisher sends raw messages to a broker.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close()
}

// mqttClient wraps a paho client.
type mqttClient struct {
	client mqtt.Client
}

// DialMQTT connects to cfg.Broker.
func DialMQTT(cfg MQTTConfig) (Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "lockwatch-pulse"
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", cfg.Broker, token.Error())
	}
	return &mqttClient{client: client}, nil
}

func (c *mqttClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (c *mqttClient) Close() {
	c.client.Disconnect(250)
}

// Notifier forwards alerts to an MQTT broker, one topic per severity.
// Notify never blocks; alerts are dropped when the queue is full.
type Notifier struct {
	pub    Publisher
	prefix string
	qos    byte
	logger *zap.Logger

	queue chan models.Alert
	done  chan struct{}
	once  sync.Once
}

// NewNotifier starts a notifier publishing through pub.
func NewNotifier(pub Publisher, prefix string, qos byte, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "/"),
		qos:    qos,
		logger: logger,
		queue:  make(chan models.Alert, notifyQueueSize),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

// Topic returns the topic an alert is published on.
func (n *Notifier) Topic(a models.Alert) string {
	return n.prefix + "/" + string(a.Severity)
}

// Notify queues a for publishing.
func (n *Notifier) Notify(a models.Alert) {
	select {
	case n.queue <- a:
	default:
		n.logger.Warn("mqtt queue full, dropping alert", zap.String("alert_id", a.ID))
	}
}

// Close drains the queue and disconnects.
func (n *Notifier) Close() {
	n.once.Do(func() {
		close(n.queue)
		<-n.done
		n.pub.Close()
	})
}

func (n *Notifier) run() {
	defer close(n.done)
	for a := range n.queue {
		payload, err := json.Marshal(a)
		if err != nil {
			n.logger.Warn("failed to encode alert", zap.String("alert_id", a.ID), zap.Error(err))
			continue
		}
		if err := n.pub.Publish(n.Topic(a), n.qos, false, payload); err != nil {
			n.logger.Warn("failed to publish alert", zap.String("alert_id", a.ID), zap.Error(err))
		}
	}
}
