package link

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/if-else-master/AI-VoiceTransMic/internal/config"
)

const mqttConnectTimeout = 10 * time.Second

// MQTTLink carries the audio transport over an MQTT broker. Outbound
// chunks publish to the uplink topic; host commands and payloads arrive on
// the downlink topic. The paho client handles reconnection; IsConnected
// mirrors its view.
type MQTTLink struct {
	client   mqtt.Client
	uplink   string
	downlink string
	qos      byte
	logger   *slog.Logger
	inbound  chan []byte
}

// NewMQTTLink creates an MQTT link and connects to the broker. The
// downlink subscription is re-established on every reconnect.
func NewMQTTLink(cfg config.MQTTConfig, logger *slog.Logger) (*MQTTLink, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &MQTTLink{
		uplink:   cfg.UplinkTopic,
		downlink: cfg.DownlinkTopic,
		qos:      byte(cfg.QoS),
		logger:   logger.With(slog.String("link", "mqtt")),
		inbound:  make(chan []byte, inboundQueueSize),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(true).
		SetOnConnectHandler(l.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			l.logger.Warn("Connection lost", slog.String("error", err.Error()))
		})

	l.client = mqtt.NewClient(opts)

	token := l.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("timed out connecting to broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to broker %s: %w", cfg.Broker, err)
	}
	return l, nil
}

// Close disconnects from the broker.
func (l *MQTTLink) Close() error {
	l.client.Disconnect(250)
	return nil
}

// IsConnected reports whether the broker connection is up.
func (l *MQTTLink) IsConnected() bool {
	return l.client.IsConnectionOpen()
}

// SendChunk publishes one chunk to the uplink topic. QoS 1 with ordering
// preserved keeps the chunk stream contiguous.
func (l *MQTTLink) SendChunk(data []byte) error {
	token := l.client.Publish(l.uplink, l.qos, false, data)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish chunk: %w", err)
	}
	return nil
}

// Recv returns the next downlink delivery, or nil when none is queued.
func (l *MQTTLink) Recv() []byte {
	select {
	case data := <-l.inbound:
		return data
	default:
		return nil
	}
}

func (l *MQTTLink) onConnect(client mqtt.Client) {
	l.logger.Info("Connected to broker", slog.String("downlink", l.downlink))
	token := client.Subscribe(l.downlink, l.qos, func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case l.inbound <- msg.Payload():
		default:
			l.logger.Warn("Inbound queue full, dropping delivery", slog.Int("bytes", len(msg.Payload())))
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		l.logger.Error("Failed to subscribe to downlink", slog.String("error", err.Error()))
	}
}
