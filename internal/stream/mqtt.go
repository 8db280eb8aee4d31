package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTConfig configures the optional MQTT bridge.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// MQTTPublisher is the part of mqtt.Client the sink uses.
type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// ConnectMQTT dials the broker. An empty ClientID gets a generated one.
func ConnectMQTT(cfg MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "sdrd-" + uuid.NewString()
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	return client, nil
}

// MQTTSink publishes each packet event to <topic>/<port>.
type MQTTSink struct {
	pub     MQTTPublisher
	topic   string
	qos     byte
	decode  bool
	timeout time.Duration
}

// NewMQTTSink creates a sink publishing through pub.
func NewMQTTSink(pub MQTTPublisher, topic string, qos byte, decode bool) *MQTTSink {
	return &MQTTSink{pub: pub, topic: topic, qos: qos, decode: decode, timeout: 5 * time.Second}
}

func (s *MQTTSink) Handle(_ context.Context, p Packet) error {
	data, err := json.Marshal(PacketEvent(p, s.decode))
	if err != nil {
		return fmt.Errorf("marshal packet event: %w", err)
	}
	topic := fmt.Sprintf("%s/%d", s.topic, p.Port)
	token := s.pub.Publish(topic, s.qos, false, data)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("mqtt publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}
