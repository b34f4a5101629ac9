// Package stub is an in-memory link driver for host-side tests.
package stub

import (
	"context"
	"errors"
	"sync"

	"github.com/okian/shotlink/internal/adapters/link"
)

// ErrUnreachable is returned by Connect while failures are queued.
var ErrUnreachable = errors.New("stub: peripheral unreachable")

const notifyCapacity = 64

// Driver implements link.Driver. Peripherals are addressed by descriptor id.
type Driver struct {
	mu          sync.Mutex
	conns       map[string]*conn
	failures    map[string]int
	connects    map[string]int
	rssi        map[string]int
	unsubscribe map[string]int
}

// New returns an empty driver. Every peripheral is reachable until told
// otherwise.
func New() *Driver {
	return &Driver{
		conns:       make(map[string]*conn),
		failures:    make(map[string]int),
		connects:    make(map[string]int),
		rssi:        make(map[string]int),
		unsubscribe: make(map[string]int),
	}
}

// Connect implements link.Driver.
func (d *Driver) Connect(ctx context.Context, desc link.Descriptor) (link.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.connects[desc.ID]++
	if n := d.failures[desc.ID]; n != 0 {
		if n > 0 {
			d.failures[desc.ID] = n - 1
		}
		return nil, ErrUnreachable
	}
	c := &conn{d: d, id: desc.ID, notes: make(chan []byte, notifyCapacity)}
	d.conns[desc.ID] = c
	return c, nil
}

// Inject delivers data as a notification from id. It reports false when id
// has no live connection or its buffer is full.
func (d *Driver) Inject(id string, data []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conns[id]
	if !ok {
		return false
	}
	select {
	case c.notes <- append([]byte(nil), data...):
		return true
	default:
		return false
	}
}

// Drop simulates an unexpected disconnect of id.
func (d *Driver) Drop(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.conns[id]; ok {
		delete(d.conns, id)
		c.closed = true
		close(c.notes)
	}
}

// FailConnects makes the next n connects to id fail. A negative n fails
// every connect until reset with FailConnects(id, 0).
func (d *Driver) FailConnects(id string, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[id] = n
}

// SetRSSI sets the signal strength reported for id.
func (d *Driver) SetRSSI(id string, dbm int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rssi[id] = dbm
}

// Connects returns how many connects were attempted for id.
func (d *Driver) Connects(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects[id]
}

// Connected reports whether id has a live connection.
func (d *Driver) Connected(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.conns[id]
	return ok
}

// Unsubscribes returns how many times a connection to id was closed by its
// owner.
func (d *Driver) Unsubscribes(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unsubscribe[id]
}

type conn struct {
	d      *Driver
	id     string
	notes  chan []byte
	closed bool // guarded by d.mu
}

func (c *conn) Notifications() <-chan []byte { return c.notes }

func (c *conn) RSSI() (int, bool) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	v, ok := c.d.rssi[c.id]
	return v, ok
}

func (c *conn) Close() error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.d.unsubscribe[c.id]++
	if c.d.conns[c.id] == c {
		delete(c.d.conns, c.id)
	}
	close(c.notes)
	return nil
}
