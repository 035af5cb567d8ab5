package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/krisshattanicole/kn3aux-code/opconsole"
	"github.com/rs/zerolog/log"
)

const DefaultTopicPrefix = "kn3aux/stream/"

var ErrConnectionLost = errors.New("mqtt connection lost")

// MQTT receives stream frames as messages on prefix+<stream id>.
type MQTT struct {
	client mqtt.Client
	prefix string
	cfg    settings

	mu     sync.Mutex
	active map[*subscription]struct{}
}

// DialMQTT connects to broker and returns a correlator that owns the
// connection.
func DialMQTT(ctx context.Context, broker, prefix string, opts ...Option) (*MQTT, error) {
	m := newMQTT(prefix, opts)

	clientOpts := mqtt.NewClientOptions().AddBroker(broker)
	clientOpts.SetClientID("kn3aux-console-" + uuid.New().String())
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectTimeout(10 * time.Second)
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", broker).Msg("mqtt connection lost")
		m.failActive(&TransportError{Err: fmt.Errorf("%w: %v", ErrConnectionLost, err)})
	})
	m.client = mqtt.NewClient(clientOpts)

	if err := wait(ctx, m.client.Connect()); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", broker, err)
	}
	return m, nil
}

// NewMQTT uses an already connected client. Connection loss is not observed.
func NewMQTT(client mqtt.Client, prefix string, opts ...Option) *MQTT {
	m := newMQTT(prefix, opts)
	m.client = client
	return m
}

func newMQTT(prefix string, opts []Option) *MQTT {
	cfg := defaultSettings()
	for _, o := range opts {
		o(&cfg)
	}
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &MQTT{
		prefix: prefix,
		cfg:    cfg,
		active: make(map[*subscription]struct{}),
	}
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MQTT) Topic(id string) string {
	return m.prefix + id
}

// Subscribe subscribes to the topic of id at QoS 1. An error means nothing
// was subscribed and the handler is never called. Cancelling ctx closes the
// subscription.
func (m *MQTT) Subscribe(ctx context.Context, id string, h opconsole.StreamHandler) (opconsole.Subscription, error) {
	if id == "" || strings.ContainsAny(id, "+#/") {
		return nil, fmt.Errorf("invalid stream id %q", id)
	}
	if !m.client.IsConnected() {
		return nil, &TransportError{Err: ErrConnectionLost}
	}
	topic := m.Topic(id)
	sub := newSubscription(id, h, m.cfg)

	token := m.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		sub.deliver(msg.Payload())
	})
	if err := wait(ctx, token); err != nil {
		m.client.Unsubscribe(topic)
		return nil, &TransportError{Err: fmt.Errorf("subscribe %s: %w", topic, err)}
	}

	m.mu.Lock()
	m.active[sub] = struct{}{}
	m.mu.Unlock()

	sub.start(ctx, func() {
		m.mu.Lock()
		delete(m.active, sub)
		m.mu.Unlock()
		// Waiting here would block paho's router when the terminal event
		// comes from a message callback.
		m.client.Unsubscribe(topic)
	})
	return sub, nil
}

func (m *MQTT) failActive(err error) {
	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.active))
	for sub := range m.active {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.finish(err)
	}
}

// Close disconnects the client, ending any open subscription first.
func (m *MQTT) Close() error {
	m.failActive(ErrClosed)
	m.client.Disconnect(250)
	return nil
}
