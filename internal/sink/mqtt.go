package sink

import (
	"encoding/json"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/ahrs_computer/internal/fusion"
)

// publisher is the part of mqtt.Client the sink needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes every estimate as JSON on TopicOrientation, and the raw
// sample it was fused from on TopicIMU. Both are retained so late
// subscribers get the current attitude immediately.
type MQTT struct {
	client           publisher
	disconnect       func()
	topicOrientation string
	topicIMU         string
}

// NewMQTT connects to broker.
func NewMQTT(broker, clientID, topicOrientation, topicIMU string) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	log.Printf("mqtt: connected to %s as %s", broker, clientID)

	m := newMQTT(client, topicOrientation, topicIMU)
	m.disconnect = func() { client.Disconnect(250) }
	return m, nil
}

func newMQTT(client publisher, topicOrientation, topicIMU string) *MQTT {
	return &MQTT{
		client:           client,
		topicOrientation: topicOrientation,
		topicIMU:         topicIMU,
	}
}

func (m *MQTT) Publish(e fusion.Estimate) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("json marshal error (orientation): %w", err)
	}
	if token := m.client.Publish(m.topicOrientation, 0, true, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT publish error (%s): %w", m.topicOrientation, token.Error())
	}

	if m.topicIMU == "" {
		return nil
	}
	payload, err = json.Marshal(e.Sample)
	if err != nil {
		return fmt.Errorf("json marshal error (imu): %w", err)
	}
	if token := m.client.Publish(m.topicIMU, 0, true, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT publish error (%s): %w", m.topicIMU, token.Error())
	}
	return nil
}

func (m *MQTT) Close() error {
	if m.disconnect != nil {
		m.disconnect()
	}
	return nil
}
