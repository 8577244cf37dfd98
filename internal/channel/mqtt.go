package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/quocanhngo/fleetwatch/pkg/auth"
)

const (
	mqttQoS          = 1
	mqttQuiesce      = 250 // milliseconds
	mqttInboundQueue = 256
)

var errMQTTClosed = errors.New("mqtt session closed")

// MQTTTransport carries the push channel over an MQTT broker. Inbound frames
// arrive on fleetwatch/<account>/events and outbound frames are published to
// fleetwatch/<account>/outbound. The broker authenticates the credential as
// the password; paho's own reconnect is off so the Manager's budget applies.
type MQTTTransport struct {
	Broker         string
	ConnectTimeout time.Duration
}

func NewMQTTTransport(broker string, connectTimeout time.Duration) *MQTTTransport {
	return &MQTTTransport{Broker: broker, ConnectTimeout: connectTimeout}
}

func eventsTopic(account string) string   { return "fleetwatch/" + account + "/events" }
func outboundTopic(account string) string { return "fleetwatch/" + account + "/outbound" }

// Dial implements Transport.
func (t *MQTTTransport) Dial(ctx context.Context, cred auth.Credential) (Conn, error) {
	timeout := t.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	c := &mqttConn{
		inbound: make(chan []byte, mqttInboundQueue),
		closed:  make(chan struct{}),
		topic:   outboundTopic(cred.Account),
		timeout: timeout,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.Broker)
	opts.SetClientID("fleetwatch-" + uuid.NewString()[:8])
	opts.SetUsername(cred.Account)
	opts.SetPassword(cred.Token)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(timeout)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.fail(err)
	})

	c.client = mqtt.NewClient(opts)

	if err := waitToken(ctx, c.client.Connect(), timeout); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	sub := c.client.Subscribe(eventsTopic(cred.Account), mqttQoS, func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case c.inbound <- msg.Payload():
		case <-c.closed:
		}
	})
	if err := waitToken(ctx, sub, timeout); err != nil {
		c.client.Disconnect(mqttQuiesce)
		return nil, fmt.Errorf("mqtt subscribe: %w", err)
	}
	return c, nil
}

func waitToken(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return context.DeadlineExceeded
	}
}

type mqttConn struct {
	client  mqtt.Client
	inbound chan []byte
	topic   string
	timeout time.Duration

	mu     sync.Mutex
	err    error
	closed chan struct{}
	once   sync.Once
}

func (c *mqttConn) fail(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.closed)
	})
}

func (c *mqttConn) ReadFrame() ([]byte, error) {
	select {
	case frame := <-c.inbound:
		return frame, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.err != nil {
			return nil, c.err
		}
		return nil, errMQTTClosed
	}
}

func (c *mqttConn) WriteFrame(frame []byte) error {
	select {
	case <-c.closed:
		return errMQTTClosed
	default:
	}
	tok := c.client.Publish(c.topic, mqttQoS, false, frame)
	if !tok.WaitTimeout(c.timeout) {
		return fmt.Errorf("mqtt publish: %w", context.DeadlineExceeded)
	}
	return tok.Error()
}

func (c *mqttConn) Close() error {
	c.fail(nil)
	c.client.Disconnect(mqttQuiesce)
	return nil
}
