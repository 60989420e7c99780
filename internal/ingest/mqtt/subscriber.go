// Package mqtt ingests device telemetry from an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/heatpilot/backend/internal/domain"
)

// topicPrefix is the root of the telemetry topic tree. Devices publish to
// heating/<device_id>/<data_key>.
const topicPrefix = "heating"

// SlopeSink receives live heating-slope samples extracted from telemetry.
type SlopeSink interface {
	ProcessSlopeUpdate(ctx context.Context, deviceID string, slope float64) error
}

// measurementPayload is the wire format devices publish. Either value or
// state is set; mode and action accompany climate-entity samples.
type measurementPayload struct {
	Timestamp time.Time `json:"timestamp"`
	Value     *float64  `json:"value,omitempty"`
	State     string    `json:"state,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	Action    string    `json:"action,omitempty"`
	SourceID  string    `json:"source_id,omitempty"`
}

// Subscriber persists incoming measurements and forwards slope samples to
// the learning pipeline.
type Subscriber struct {
	client mqtt.Client
	writer domain.TelemetryWriter
	slopes SlopeSink
}

// NewClient builds a paho client with auto-reconnect against the broker URL.
func NewClient(brokerURL, clientID string) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Printf("mqtt: connected to %s", brokerURL)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})
	return mqtt.NewClient(opts)
}

// NewSubscriber creates a subscriber over an already-configured client.
func NewSubscriber(client mqtt.Client, writer domain.TelemetryWriter, slopes SlopeSink) *Subscriber {
	return &Subscriber{client: client, writer: writer, slopes: slopes}
}

// Start connects and subscribes to the telemetry topic tree.
func (s *Subscriber) Start() error {
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt: connect failed: %w", token.Error())
	}

	topic := topicPrefix + "/+/+"
	if token := s.client.Subscribe(topic, 1, s.handleMessage); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt: subscribe to %s failed: %w", topic, token.Error())
	}
	log.Printf("mqtt: subscribed to %s", topic)
	return nil
}

// Stop disconnects from the broker, allowing in-flight work to finish.
func (s *Subscriber) Stop() {
	s.client.Disconnect(250)
}

func (s *Subscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	deviceID, key, err := parseTopic(msg.Topic())
	if err != nil {
		log.Printf("mqtt: %v", err)
		return
	}

	var payload measurementPayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		log.Printf("mqtt: bad payload on %s: %v", msg.Topic(), err)
		return
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}

	m := domain.HistoricalMeasurement{
		Timestamp: payload.Timestamp,
		SourceID:  payload.SourceID,
	}
	if payload.Value != nil {
		m.Value = domain.NumberValue(*payload.Value)
	} else {
		m.Value = domain.StateValue(payload.State)
	}
	if payload.Mode != "" || payload.Action != "" {
		m.Climate = &domain.ClimateState{
			Mode:   domain.HVACMode(payload.Mode),
			Action: domain.HVACAction(payload.Action),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.writer.InsertMeasurement(ctx, deviceID, key, m); err != nil {
		log.Printf("mqtt: storing %s for %s: %v", key, deviceID, err)
		return
	}

	if key == domain.KeyHeatingSlope && payload.Value != nil {
		if err := s.slopes.ProcessSlopeUpdate(ctx, deviceID, *payload.Value); err != nil {
			log.Printf("mqtt: slope update for %s: %v", deviceID, err)
		}
	}
}

// parseTopic splits heating/<device_id>/<data_key> and validates the key.
func parseTopic(topic string) (string, domain.DataKey, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != topicPrefix || parts[1] == "" {
		return "", "", fmt.Errorf("unexpected topic %q", topic)
	}
	key := domain.DataKey(parts[2])
	if key == domain.KeyHeatingSlope {
		return parts[1], key, nil
	}
	for _, known := range domain.AllDataKeys {
		if key == known {
			return parts[1], key, nil
		}
	}
	return "", "", fmt.Errorf("unknown data key in topic %q", topic)
}
