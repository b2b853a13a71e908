package events

import (
	"encoding/json"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher is the part of mqtt.Client used by MQTTSink.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

var _ Publisher = (mqtt.Client)(nil)

// MQTTSink publishes events as JSON to a broker topic. Events of each
// kind go to "<topic>/<kind>".
//
// Publish tokens are never waited on; delivery failures are logged from a
// background goroutine once the client reports them.
type MQTTSink struct {
	client Publisher
	topic  string
	qos    byte
	logger *slog.Logger
}

// NewMQTTSink returns a sink publishing with QoS 0 below topic.
func NewMQTTSink(client Publisher, topic string, logger *slog.Logger) *MQTTSink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MQTTSink{client: client, topic: topic, logger: logger}
}

// WithQoS sets the publish quality of service level.
func (s *MQTTSink) WithQoS(qos byte) *MQTTSink {
	s.qos = qos
	return s
}

// Topic returns the topic an event of the given kind is published to.
func (s *MQTTSink) Topic(kind Kind) string {
	return s.topic + "/" + string(kind)
}

func (s *MQTTSink) Notify(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("Failed to encode event", "error", err, "kind", e.Kind)
		return
	}

	topic := s.Topic(e.Kind)
	token := s.client.Publish(topic, s.qos, false, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			s.logger.Warn("Failed to publish event", "error", err, "topic", topic)
		}
	}()
}

// ConnectMQTT dials the broker and returns a connected client. The client
// reconnects automatically; connection loss is logged.
func ConnectMQTT(broker, clientID string, logger *slog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}
	return client, nil
}
