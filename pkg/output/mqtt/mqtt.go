package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/biosync/biostream/pkg/config"
	"github.com/biosync/biostream/pkg/device"
	"github.com/biosync/biostream/pkg/output"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	DefaultServer   = "tcp://localhost:1883"
	DefaultPrefix   = "biostream"
	markerTopicFmt  = "%s/markers/%s"
	streamTopicFmt  = "%s/%s/%s"
	infoTopicSuffix = "/info"
	publishTimeout  = 5 * time.Second
	disconnectQuiet = 250
)

// publisher is the part of mqtt.Client the sink needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type MQTTOutput struct {
	client publisher
	prefix string
	qos    byte
}

type samplePayload struct {
	Timestamp time.Time `json:"timestamp"`
	Unix      float64   `json:"unix"`
	Values    []float64 `json:"values"`
	Channels  []string  `json:"channels"`
}

type markerPayload struct {
	Timestamp time.Time `json:"timestamp"`
	Unix      float64   `json:"unix"`
	Marker    string    `json:"marker"`
}

// NewMQTT connects to the broker. One connection is shared by every channel.
func NewMQTT(cfg config.MQTTConfig) (*MQTTOutput, error) {
	server := cfg.Server
	if server == "" {
		server = DefaultServer
	}
	opts := mqtt.NewClientOptions().AddBroker(server).SetClientID(cfg.ClientID).SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return newWithClient(client, cfg), nil
}

func newWithClient(client publisher, cfg config.MQTTConfig) *MQTTOutput {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &MQTTOutput{client: client, prefix: prefix, qos: cfg.QoS}
}

// StreamTopic returns the topic carrying samples of info.
func (m *MQTTOutput) StreamTopic(info output.StreamInfo) string {
	return fmt.Sprintf(streamTopicFmt, m.prefix, topicSegment(info.Device), topicSegment(info.Type))
}

// MarkerTopic returns the topic carrying markers of info.
func (m *MQTTOutput) MarkerTopic(info output.StreamInfo) string {
	return fmt.Sprintf(markerTopicFmt, m.prefix, topicSegment(info.Name))
}

// Channel publishes the stream descriptor (retained) and returns a channel
// on the stream topic.
func (m *MQTTOutput) Channel(info output.StreamInfo) (output.Channel, error) {
	topic := m.StreamTopic(info)
	if err := m.publishJSON(topic+infoTopicSuffix, true, info); err != nil {
		return nil, fmt.Errorf("publish stream info: %w", err)
	}
	return &mqttChannel{out: m, topic: topic, channels: info.Channels}, nil
}

func (m *MQTTOutput) Markers(info output.StreamInfo) (output.MarkerChannel, error) {
	topic := m.MarkerTopic(info)
	if err := m.publishJSON(topic+infoTopicSuffix, true, info); err != nil {
		return nil, fmt.Errorf("publish marker info: %w", err)
	}
	return &mqttChannel{out: m, topic: topic}, nil
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(disconnectQuiet)
	}
	return nil
}

// PublishRaw publishes a raw payload to the given topic. The caller can set the
// retain flag which is useful for descriptors.
func (m *MQTTOutput) PublishRaw(topic string, payload []byte, retained bool) error {
	if m.client == nil {
		return fmt.Errorf("mqtt client not connected")
	}
	token := m.client.Publish(topic, m.qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish %s: timeout", topic)
	}
	return token.Error()
}

func (m *MQTTOutput) publishJSON(topic string, retained bool, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return m.PublishRaw(topic, b, retained)
}

type mqttChannel struct {
	out      *MQTTOutput
	topic    string
	channels []string
}

func (c *mqttChannel) Publish(s device.Sample) error {
	return c.out.publishJSON(c.topic, false, samplePayload{
		Timestamp: s.Timestamp,
		Unix:      unixSeconds(s.Timestamp),
		Values:    s.Values,
		Channels:  c.channels,
	})
}

func (c *mqttChannel) PublishMarker(ts time.Time, marker string) error {
	return c.out.publishJSON(c.topic, false, markerPayload{Timestamp: ts, Unix: unixSeconds(ts), Marker: marker})
}

func (c *mqttChannel) Close() error { return nil }

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// topicSegment keeps MQTT wildcards and separators out of a topic level.
func topicSegment(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "_").Replace(s)
}
