package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrNotConnected is returned by Publish before Connect succeeds or while
// the client is reconnecting.
var ErrNotConnected = errors.New("telemetry: mqtt not connected")

// Config configures an Emitter.
type Config struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Topic    string // snapshots go to <Topic>/<filter>
	QoS      byte
}

// publisher is the subset of mqtt.Client the emitter needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Stats counts emitter activity.
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// Emitter publishes snapshots to MQTT.
type Emitter struct {
	cfg    Config
	client publisher

	newClient      func(*mqtt.ClientOptions) mqtt.Client
	connectTimeout time.Duration

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// NewEmitter creates an unconnected emitter.
func NewEmitter(cfg Config) *Emitter {
	return &Emitter{
		cfg:            cfg,
		newClient:      mqtt.NewClient,
		connectTimeout: 5 * time.Second,
	}
}

// Connect establishes the broker connection. The client reconnects on its
// own afterwards. On failure the client is disconnected so its connect-retry
// goroutine stops.
func (e *Emitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.Broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		slog.Info("telemetry: mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("telemetry: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker,
		)
	}

	client := e.newClient(opts)

	slog.Info("telemetry: connecting to mqtt broker", "broker", e.cfg.Broker)

	timer := time.NewTimer(e.connectTimeout)
	defer timer.Stop()

	token := client.Connect()
	var err error
	select {
	case <-token.Done():
		if terr := token.Error(); terr != nil {
			err = fmt.Errorf("mqtt connection failed: %w", terr)
		}
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer.C:
		err = fmt.Errorf("mqtt connection timeout")
	}
	if err != nil {
		client.Disconnect(0)
		e.setConnected(false)
		return err
	}

	e.client = client
	e.setConnected(true)
	return nil
}

// Publish encodes s and publishes it to <Topic>/<s.Filter>.
func (e *Emitter) Publish(s Snapshot) error {
	if !e.isConnected() {
		e.countError()
		return ErrNotConnected
	}

	payload, err := Encode(s)
	if err != nil {
		e.countError()
		return err
	}

	topic := fmt.Sprintf("%s/%s", e.cfg.Topic, s.Filter)
	token := e.client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	slog.Debug("telemetry: snapshot published", "topic", topic, "size", len(payload))
	return nil
}

// Run publishes snap() every interval until ctx is cancelled. Publish
// failures are logged and do not stop the loop.
func (e *Emitter) Run(ctx context.Context, interval time.Duration, snap func() Snapshot) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Publish(snap()); err != nil {
				slog.Warn("telemetry: publish failed", "error", err)
			}
		}
	}
}

// Disconnect closes the connection.
func (e *Emitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		slog.Info("telemetry: mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats returns emitter counters.
func (e *Emitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Connected: e.connected, Published: e.published, Errors: e.errors}
}

func (e *Emitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *Emitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *Emitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
