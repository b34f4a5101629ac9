// Package mqttbridge is a link driver for peripherals relayed by a BLE to
// MQTT gateway. For a peripheral with address A the gateway publishes
//
//	<prefix>/A/notify  raw notification payloads
//	<prefix>/A/rssi    signal strength in dBm as decimal text
//	<prefix>/A/state   "connected" or "disconnected"
package mqttbridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/okian/shotlink/internal/adapters/link"
	"github.com/okian/shotlink/pkg/logger"
)

// ErrGatewayDisconnected is reported when the gateway loses the peripheral.
var ErrGatewayDisconnected = errors.New("mqttbridge: gateway reports peripheral disconnected")

const (
	notifyBuffer       = 128
	unsubscribeTimeout = time.Second
	disconnectQuiesce  = 250
)

// Driver implements link.Driver over an MQTT client.
type Driver struct {
	client mqtt.Client
	prefix string
	log    logger.Logger

	mu    sync.Mutex
	conns map[string]*conn
}

// New connects lazily to broker and relays peripherals under prefix.
func New(broker, prefix string, log logger.Logger) *Driver {
	d := &Driver{prefix: strings.TrimSuffix(prefix, "/"), log: log, conns: make(map[string]*conn)}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("shotlink-%d", time.Now().UnixNano()))
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	// the link manager owns reconnection
	opts.SetAutoReconnect(false)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		d.log.Warn(context.Background(), "mqtt connection lost", logger.Error(err))
		d.dropAll()
	}
	d.client = mqtt.NewClient(opts)
	return d
}

// NewWithClient uses an existing client. Connection loss must be reported
// through DropAll by whoever configured the client.
func NewWithClient(client mqtt.Client, prefix string, log logger.Logger) *Driver {
	return &Driver{client: client, prefix: strings.TrimSuffix(prefix, "/"), log: log, conns: make(map[string]*conn)}
}

// Connect implements link.Driver.
func (d *Driver) Connect(ctx context.Context, desc link.Descriptor) (link.Conn, error) {
	if !d.client.IsConnectionOpen() {
		if err := wait(ctx, d.client.Connect()); err != nil {
			return nil, fmt.Errorf("mqttbridge: connect broker: %w", err)
		}
	}

	addr := desc.Address
	if addr == "" {
		addr = desc.ID
	}
	c := &conn{d: d, addr: addr, topic: d.prefix + "/" + addr + "/+", notes: make(chan []byte, notifyBuffer)}

	d.mu.Lock()
	old := d.conns[addr]
	d.conns[addr] = c
	d.mu.Unlock()
	if old != nil {
		old.drop()
	}

	if err := wait(ctx, d.client.Subscribe(c.topic, 0, c.onMessage)); err != nil {
		d.forget(c)
		c.drop()
		return nil, fmt.Errorf("mqttbridge: subscribe %s: %w", c.topic, err)
	}
	return c, nil
}

// DropAll ends every connection, as after a broker disconnect.
func (d *Driver) DropAll() { d.dropAll() }

// Disconnect closes the broker connection.
func (d *Driver) Disconnect() {
	d.dropAll()
	if d.client.IsConnected() {
		d.client.Disconnect(disconnectQuiesce)
	}
}

func (d *Driver) dropAll() {
	d.mu.Lock()
	all := make([]*conn, 0, len(d.conns))
	for addr, c := range d.conns {
		all = append(all, c)
		delete(d.conns, addr)
	}
	d.mu.Unlock()
	for _, c := range all {
		c.drop()
	}
}

func (d *Driver) forget(c *conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conns[c.addr] == c {
		delete(d.conns, c.addr)
	}
}

func wait(ctx context.Context, t mqtt.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type conn struct {
	d     *Driver
	addr  string
	topic string
	notes chan []byte

	mu      sync.Mutex
	closed  bool
	rssi    int
	hasRSSI bool
}

func (c *conn) Notifications() <-chan []byte { return c.notes }

func (c *conn) RSSI() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rssi, c.hasRSSI
}

func (c *conn) Close() error {
	c.d.forget(c)
	c.drop()
	if c.d.client.IsConnectionOpen() {
		t := c.d.client.Unsubscribe(c.topic)
		if !t.WaitTimeout(unsubscribeTimeout) {
			return fmt.Errorf("mqttbridge: unsubscribe %s: timeout", c.topic)
		}
		return t.Error()
	}
	return nil
}

func (c *conn) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.notes)
	}
}

func (c *conn) onMessage(_ mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	leaf := topic[strings.LastIndexByte(topic, '/')+1:]
	switch leaf {
	case "notify":
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		select {
		case c.notes <- append([]byte(nil), msg.Payload()...):
		default:
			// paho callbacks must not block
		}
	case "rssi":
		v, err := strconv.Atoi(strings.TrimSpace(string(msg.Payload())))
		if err != nil {
			return
		}
		c.mu.Lock()
		c.rssi, c.hasRSSI = v, true
		c.mu.Unlock()
	case "state":
		if strings.TrimSpace(string(msg.Payload())) == "disconnected" {
			c.d.log.Debug(context.Background(), ErrGatewayDisconnected.Error(), logger.String("address", c.addr))
			c.d.forget(c)
			c.drop()
		}
	}
}
