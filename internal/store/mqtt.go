// internal/store/mqtt.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	qos          = 1
	setSuffix    = "/set"
	objectSuffix = "/$object"
	// connectionPath is published true while the bridge is connected (retained, with will)
	connectionPath = "info.connection"
)

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Prefix   string
	Username string
	Password string
	Timeout  time.Duration
}

// MQTT persists states as retained JSON messages.
//
//	<prefix>/<path with '.' as '/'>          {"val":..,"ack":..,"ts":..}
//	<prefix>/<path>/$object                  object declaration
//	<prefix>/<path>/set                      commands, plain value or State JSON
type MQTT struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.RWMutex
	states  map[string]State
	objects map[string]Object
}

// NewMQTT connects to the broker.
func NewMQTT(cfg MQTTConfig, log zerolog.Logger) (*MQTT, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	prefix := strings.TrimSuffix(cfg.Prefix, "/")
	will := prefix + "/" + Topic(connectionPath)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetWill(will, "false", qos, true).
		SetAutoReconnect(true).
		SetResumeSubs(true).
		SetOrderMatters(false)

	opts.OnConnect = func(c mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("mqtt connected")
		c.Publish(will, qos, true, "true")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}

	return newMQTT(client, prefix, cfg.Timeout, log), nil
}

func newMQTT(client mqtt.Client, prefix string, timeout time.Duration, log zerolog.Logger) *MQTT {
	return &MQTT{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		log:     log,
		states:  make(map[string]State),
		objects: make(map[string]Object),
	}
}

// Topic converts a dotted state path to a topic suffix.
func Topic(path string) string { return strings.ReplaceAll(path, ".", "/") }

func (m *MQTT) topic(path string) string { return m.prefix + "/" + Topic(path) }

// path converts a full topic back to a state path.
func (m *MQTT) path(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, m.prefix+"/")
	if !ok || rest == "" {
		return "", false
	}
	return strings.ReplaceAll(rest, "/", "."), true
}

// GetState returns the last state written through this store.
func (m *MQTT) GetState(_ context.Context, path string) (State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[path]
	return s, ok, nil
}

func (m *MQTT) SetState(ctx context.Context, path string, s State) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("mqtt: encode %s: %w", path, err)
	}
	if err := m.publish(ctx, m.topic(path), payload); err != nil {
		return err
	}

	m.mu.Lock()
	m.states[path] = s
	m.mu.Unlock()
	return nil
}

func (m *MQTT) ExtendObject(ctx context.Context, path string, o Object) error {
	m.mu.RLock()
	prev, ok := m.objects[path]
	m.mu.RUnlock()
	if ok && reflect.DeepEqual(prev, o) {
		return nil
	}

	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("mqtt: encode object %s: %w", path, err)
	}
	if err := m.publish(ctx, m.topic(path)+objectSuffix, payload); err != nil {
		return err
	}

	m.mu.Lock()
	m.objects[path] = o
	m.mu.Unlock()
	return nil
}

// SubscribeStates listens for commands on <topic>/set below the pattern.
func (m *MQTT) SubscribeStates(pattern string, h Handler) error {
	filter := m.prefix + "/" + Topic(pattern)
	if base, ok := strings.CutSuffix(filter, "/*"); ok {
		filter = strings.ReplaceAll(base, "*", "+") + "/#"
	} else {
		filter = strings.ReplaceAll(filter, "*", "+") + setSuffix
	}

	token := m.client.Subscribe(filter, qos, func(_ mqtt.Client, msg mqtt.Message) {
		topic, ok := strings.CutSuffix(msg.Topic(), setSuffix)
		if !ok {
			return
		}
		path, ok := m.path(topic)
		if !ok || !Match(pattern, path) {
			return
		}
		h(path, ParseCommand(msg.Payload()))
	})
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("mqtt subscribe %s: %w", filter, ErrTimeout)
	}
	return token.Error()
}

// Close marks the bridge offline and disconnects.
func (m *MQTT) Close() {
	t := m.client.Publish(m.topic(connectionPath), qos, true, "false")
	t.WaitTimeout(m.timeout)
	m.client.Disconnect(250)
}

func (m *MQTT) publish(ctx context.Context, topic string, payload []byte) error {
	token := m.client.Publish(topic, qos, true, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.timeout):
		return fmt.Errorf("mqtt publish %s: %w", topic, ErrTimeout)
	}
}

// ParseCommand accepts a State JSON object or a bare value.
// Bare payloads that are not JSON are taken as strings.
func ParseCommand(payload []byte) State {
	var st struct {
		Val *json.RawMessage `json:"val"`
		Ack bool             `json:"ack"`
		Ts  int64            `json:"ts"`
	}
	if err := json.Unmarshal(payload, &st); err == nil && st.Val != nil {
		return State{Val: parseValue(*st.Val), Ack: st.Ack, Ts: st.Ts}
	}
	return State{Val: parseValue(payload)}
}

func parseValue(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	s := strings.TrimSpace(string(raw))
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
