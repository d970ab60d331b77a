package mqtt

import (
	"encoding/json"
	"fmt"
	"time"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// EventConfigUpdated is the event name of ConfigEvent.
const EventConfigUpdated = "config_updated"

// ConfigEvent is published on the device config topic after each
// successful configuration update.
type ConfigEvent struct {
	Event     string   `json:"event"`
	HNodeID   string   `json:"hnode_id,omitempty"`
	Sections  []string `json:"sections"`
	Timestamp string   `json:"timestamp"`
}

// Publish sends a message to the specified MQTT topic.
//
// Parameters:
//   - topic: The topic to publish to
//   - payload: The message payload (typically JSON, max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// PublishRetained publishes a retained message with the configured default QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}

// PublishConfigUpdated announces a configuration change for the device.
// The event is not retained; subscribers that need the current config
// fetch it over HTTP.
func (c *Client) PublishConfigUpdated(hnodeID string, sections []string) error {
	payload, err := buildConfigEvent(hnodeID, sections)
	if err != nil {
		return err
	}
	return c.Publish(c.topics.DeviceConfig(), payload, byte(c.cfg.QoS), false)
}

func buildConfigEvent(hnodeID string, sections []string) ([]byte, error) {
	if sections == nil {
		sections = []string{}
	}
	payload, err := json.Marshal(ConfigEvent{
		Event:     EventConfigUpdated,
		HNodeID:   hnodeID,
		Sections:  sections,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding config event: %w", ErrPublishFailed, err)
	}
	return payload, nil
}
