// Package mqtt implements a transport.Transport over an MQTT gateway,
// for a RAMSES radio bridged by something like zigbee2mqtt's RAMSES
// cousins or a remote evofw3 relay. See spec §6.
package mqtt

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Config describes the broker connection and topic layout.
type Config struct {
	Broker   string // e.g. "tcp://localhost:1883"
	ClientID string
	Base     string // topic prefix; frames publish to Base+"/tx", subscribe to Base+"/rx"
	Username string
	Password string
}

func (c Config) txTopic() string { return c.Base + "/tx" }
func (c Config) rxTopic() string { return c.Base + "/rx" }

// Transport bridges the wire-grammar line protocol onto two MQTT topics.
// Because an MQTT gateway is not itself a half-duplex radio, WriteFrame
// synthesizes the echo the Protocol FSM expects by feeding the published
// line back into the read side directly, rather than waiting for the
// broker to round-trip it back on the rx topic.
type Transport struct {
	cfg    Config
	client paho.Client
	lines  chan string
	errs   chan error
}

// Open connects to cfg.Broker and subscribes to cfg.Base+"/rx".
func Open(cfg Config) (*Transport, error) {
	t := &Transport{
		cfg:   cfg,
		lines: make(chan string, 64),
		errs:  make(chan error, 1),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetDefaultPublishHandler(func(_ paho.Client, msg paho.Message) {
		select {
		case t.lines <- string(msg.Payload()):
		default:
		}
	})

	t.client = paho.NewClient(opts)
	if tok := t.client.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, fmt.Errorf("mqtt: connect: %w", tok.Error())
	}
	tok := t.client.Subscribe(cfg.rxTopic(), 0, func(_ paho.Client, msg paho.Message) {
		select {
		case t.lines <- string(msg.Payload()):
		default:
		}
	})
	if tok.Wait() && tok.Error() != nil {
		t.client.Disconnect(250)
		return nil, fmt.Errorf("mqtt: subscribe %s: %w", cfg.rxTopic(), tok.Error())
	}
	return t, nil
}

// ReadFrame returns the next line received on the rx topic, or the one
// most recently echoed back by WriteFrame.
func (t *Transport) ReadFrame(ctx context.Context) (string, error) {
	select {
	case line := <-t.lines:
		return line, nil
	case err := <-t.errs:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// WriteFrame publishes line to the tx topic and loops it back onto the
// read side immediately, standing in for the radio's own RF echo.
func (t *Transport) WriteFrame(ctx context.Context, line string) error {
	tok := t.client.Publish(t.cfg.txTopic(), 0, false, line)
	if tok.Wait() && tok.Error() != nil {
		return fmt.Errorf("mqtt: publish: %w", tok.Error())
	}
	select {
	case t.lines <- line:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Close disconnects from the broker.
func (t *Transport) Close() error {
	t.client.Disconnect(250)
	return nil
}
