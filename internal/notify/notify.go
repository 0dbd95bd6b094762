// Package notify delivers fire-and-forget operation notices. Delivery failures are
// logged and never reach the caller.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

type Level string

const (
	Success Level = "success"
	Failure Level = "failure"
)

// Notice describes the outcome of one operation.
type Notice struct {
	Level     Level     `json:"level"`
	VehicleID string    `json:"vehicle_id,omitempty"`
	Operation string    `json:"operation"`
	Message   string    `json:"message"`
	ActorID   string    `json:"actor_id,omitempty"`
	At        time.Time `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Log writes notices to a logrus logger.
type Log struct {
	Logger log.FieldLogger
}

func (l Log) Notify(_ context.Context, n Notice) {
	entry := l.Logger.WithFields(log.Fields{
		"vehicle_id": n.VehicleID,
		"operation":  n.Operation,
		"actor_id":   n.ActorID,
	})
	if n.Level == Failure {
		entry.Warn(n.Message)
		return
	}
	entry.Info(n.Message)
}

// Multi fans a notice out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) {
	for _, nt := range m {
		nt.Notify(ctx, n)
	}
}

// Nop discards notices.
type Nop struct{}

func (Nop) Notify(context.Context, Notice) {}

// MQTTOptions configures the MQTT notifier.
type MQTTOptions struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Topic     string
	QoS       byte
	// ConnectTimeout bounds the initial connect; zero means 10s.
	ConnectTimeout time.Duration
}

// publisher is the part of mqtt.Client the notifier uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes notices as JSON on a topic.
type MQTT struct {
	client  publisher
	topic   string
	qos     byte
	timeout time.Duration
	logger  log.FieldLogger
}

// NewMQTT connects to the broker. The client reconnects on its own afterwards.
func NewMQTT(opts MQTTOptions, logger log.FieldLogger) (*MQTT, error) {
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	co := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.WithError(err).Warn("MQTT connection lost")
		})
	client := mqtt.NewClient(co)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to %s: %w", opts.BrokerURL, token.Error())
	}
	topic := opts.Topic
	if topic == "" {
		topic = "fleetops/notifications"
	}
	logger.WithFields(log.Fields{"broker": opts.BrokerURL, "topic": topic}).Info("MQTT notifier connected")
	return newMQTT(client, topic, opts.QoS, logger), nil
}

func newMQTT(client publisher, topic string, qos byte, logger log.FieldLogger) *MQTT {
	return &MQTT{client: client, topic: topic, qos: qos, timeout: 2 * time.Second, logger: logger}
}

func (m *MQTT) Notify(_ context.Context, n Notice) {
	payload, err := json.Marshal(n)
	if err != nil {
		m.logger.WithError(err).Error("Failed to encode notice")
		return
	}
	token := m.client.Publish(m.topic, m.qos, false, payload)
	go func() {
		if !token.WaitTimeout(m.timeout) {
			m.logger.WithField("operation", n.Operation).Warn("MQTT publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			m.logger.WithError(err).WithField("operation", n.Operation).Warn("MQTT publish failed")
		}
	}()
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}
