// Package mqttpub publishes bridge telemetry to an MQTT broker, so recording
// and monitoring infrastructure can subscribe without holding a websocket to
// the bridge.
package mqttpub

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wujilabs/go-wuji/internal/log"
)

// Publisher forwards telemetry frames to a single MQTT topic at QoS 0.
// Delivery is best-effort: a dropped frame is cheaper than back-pressuring
// the control loop.
type Publisher struct {
	client mqtt.Client
	topic  string
}

// Connect dials the broker and returns a ready publisher.
func Connect(broker, clientID, topic string) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", broker, token.Error())
	}
	log.Info("connected to MQTT broker", "broker", broker, "topic", topic)

	return &Publisher{client: client, topic: topic}, nil
}

// Publish sends one telemetry frame. Errors are logged, never returned: the
// bridge treats the sink as fire-and-forget.
func (p *Publisher) Publish(payload []byte) {
	token := p.client.Publish(p.topic, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Debug("mqtt publish failed", "err", token.Error())
		}
	}()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
