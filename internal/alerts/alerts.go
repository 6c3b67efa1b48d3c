// Package alerts публикует уведомления о критическом статусе оборудования
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"predmaint-service/internal/log"
	"predmaint-service/internal/metrics"
)

// DefaultTopic топик MQTT по умолчанию
const DefaultTopic = "predmaint/alerts"

// Alert уведомление о критическом результате
type Alert struct {
	SessionID   string    `json:"session_id"`
	Status      string    `json:"status"`
	Probability float64   `json:"probability"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
}

// Notifier отправляет уведомления
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
	Close()
}

// Nop уведомитель без отправки, используется без брокера
type Nop struct{}

func (Nop) Notify(context.Context, Alert) error { return nil }

func (Nop) Close() {}

// MQTTNotifier публикует уведомления в MQTT брокер
type MQTTNotifier struct {
	client mqtt.Client
	topic  string
}

// NewMQTTNotifier подключается к брокеру
func NewMQTTNotifier(broker, clientID, topic string) (*MQTTNotifier, error) {
	if topic == "" {
		topic = DefaultTopic
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &MQTTNotifier{client: c, topic: topic}, nil
}

// Notify публикует уведомление с QoS 1
func (n *MQTTNotifier) Notify(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	token := n.client.Publish(n.topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// Close отключается от брокера
func (n *MQTTNotifier) Close() {
	n.client.Disconnect(250)
}

// Send отправляет уведомление и логирует ошибку, не возвращая её вызывающему
func Send(ctx context.Context, n Notifier, a Alert) {
	if n == nil {
		return
	}
	if _, ok := n.(Nop); ok {
		metrics.AlertsPublished.WithLabelValues("skipped").Inc()
		return
	}
	if err := n.Notify(ctx, a); err != nil {
		metrics.AlertsPublished.WithLabelValues("error").Inc()
		log.Warnw("alert not published", "session", a.SessionID, "error", err)
		return
	}
	metrics.AlertsPublished.WithLabelValues("ok").Inc()
}
