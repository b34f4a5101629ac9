// Package ble is the link driver for peripherals reached directly over the
// host's Bluetooth LE adapter.
package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/okian/shotlink/internal/adapters/link"
	"github.com/okian/shotlink/internal/domain/model"
	"github.com/okian/shotlink/pkg/logger"
)

// BLE errors.
var (
	ErrNotFound       = errors.New("ble: peripheral not advertising")
	ErrNoNotifyChar   = errors.New("ble: notify characteristic not found")
	ErrUnknownProfile = errors.New("ble: no GATT profile for peripheral kind")
)

// Profile names the GATT service and notify characteristic of a peripheral
// kind.
type Profile struct {
	Service string
	Notify  string
}

// Default profiles. The motion sensor profile is the vendor UART service.
var (
	TimerProfile  = Profile{Service: "0000fff0-0000-1000-8000-00805f9b34fb", Notify: "0000fff1-0000-1000-8000-00805f9b34fb"}
	MotionProfile = Profile{Service: "0000ffe5-0000-1000-8000-00805f9a34fb", Notify: "0000ffe4-0000-1000-8000-00805f9a34fb"}
)

const (
	defaultScanTimeout = 10 * time.Second
	notifyBuffer       = 128
)

// Option configures a Driver.
type Option func(*Driver)

// WithScanTimeout bounds how long Connect scans for the peripheral.
func WithScanTimeout(d time.Duration) Option {
	return func(dr *Driver) {
		if d > 0 {
			dr.scanTimeout = d
		}
	}
}

// WithProfile overrides the GATT profile used for kind.
func WithProfile(kind model.PeripheralKind, p Profile) Option {
	return func(dr *Driver) { dr.profiles[kind] = p }
}

// Driver implements link.Driver on the default adapter.
type Driver struct {
	adapter     *bluetooth.Adapter
	scanTimeout time.Duration
	profiles    map[model.PeripheralKind]Profile
	log         logger.Logger

	enableOnce sync.Once
	enableErr  error

	// the adapter scans for one peripheral at a time
	connectMu sync.Mutex

	mu    sync.Mutex
	conns map[string]*conn
}

// New returns a driver on bluetooth.DefaultAdapter.
func New(log logger.Logger, opts ...Option) *Driver {
	d := &Driver{
		adapter:     bluetooth.DefaultAdapter,
		scanTimeout: defaultScanTimeout,
		profiles: map[model.PeripheralKind]Profile{
			model.PeripheralTimer:  TimerProfile,
			model.PeripheralMotion: MotionProfile,
		},
		log:   log,
		conns: make(map[string]*conn),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) enable() error {
	d.enableOnce.Do(func() {
		d.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
			if !connected {
				d.dropAddress(device.Address.String())
			}
		})
		d.enableErr = d.adapter.Enable()
	})
	return d.enableErr
}

// Connect scans for the peripheral by address, connects and subscribes to
// its notify characteristic.
func (d *Driver) Connect(ctx context.Context, desc link.Descriptor) (link.Conn, error) {
	p, ok := d.profiles[desc.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, desc.Kind)
	}
	svcUUID, err := bluetooth.ParseUUID(p.Service)
	if err != nil {
		return nil, fmt.Errorf("ble: service uuid: %w", err)
	}
	charUUID, err := bluetooth.ParseUUID(p.Notify)
	if err != nil {
		return nil, fmt.Errorf("ble: notify uuid: %w", err)
	}
	if err := d.enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	d.connectMu.Lock()
	defer d.connectMu.Unlock()

	result, err := d.discover(ctx, desc.Address)
	if err != nil {
		return nil, err
	}
	dev, err := d.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("ble: connect %s: %w", desc.Address, err)
	}
	fail := func(err error) (link.Conn, error) {
		_ = dev.Disconnect()
		return nil, err
	}

	svcs, err := dev.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil || len(svcs) == 0 {
		return fail(fmt.Errorf("ble: discover service %s: %w", p.Service, errors.Join(ErrNoNotifyChar, err)))
	}
	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil || len(chars) == 0 {
		return fail(fmt.Errorf("ble: discover characteristic %s: %w", p.Notify, errors.Join(ErrNoNotifyChar, err)))
	}
	char := chars[0]

	c := &conn{
		d:          d,
		addr:       normalize(result.Address.String()),
		notes:      make(chan []byte, notifyBuffer),
		rssi:       int(result.RSSI),
		disconnect: dev.Disconnect,
		unsubscribe: func() error {
			return char.EnableNotifications(nil)
		},
	}
	if err := char.EnableNotifications(c.onNotify); err != nil {
		return fail(fmt.Errorf("ble: subscribe: %w", err))
	}

	d.mu.Lock()
	d.conns[c.addr] = c
	d.mu.Unlock()
	d.log.Debug(ctx, "ble peripheral subscribed",
		logger.String("peripheral", desc.ID),
		logger.String("address", c.addr),
		logger.Int("rssi", c.rssi))
	return c, nil
}

// discover scans until a peripheral advertising with addr is seen.
func (d *Driver) discover(ctx context.Context, addr string) (bluetooth.ScanResult, error) {
	found := make(chan bluetooth.ScanResult, 1)
	done := make(chan error, 1)
	go func() {
		done <- d.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if SameAddress(r.Address.String(), addr) {
				select {
				case found <- r:
				default:
				}
				_ = a.StopScan()
			}
		})
	}()

	t := time.NewTimer(d.scanTimeout)
	defer t.Stop()
	select {
	case r := <-found:
		<-done
		return r, nil
	case err := <-done:
		select {
		case r := <-found:
			return r, nil
		default:
		}
		if err == nil {
			err = ErrNotFound
		}
		return bluetooth.ScanResult{}, fmt.Errorf("ble: scan for %s: %w", addr, err)
	case <-t.C:
		_ = d.adapter.StopScan()
		<-done
		return bluetooth.ScanResult{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
	case <-ctx.Done():
		_ = d.adapter.StopScan()
		<-done
		return bluetooth.ScanResult{}, ctx.Err()
	}
}

func (d *Driver) dropAddress(addr string) {
	addr = normalize(addr)
	d.mu.Lock()
	c, ok := d.conns[addr]
	delete(d.conns, addr)
	d.mu.Unlock()
	if ok {
		c.drop()
	}
}

// SameAddress compares two Bluetooth addresses ignoring case and separators.
func SameAddress(a, b string) bool {
	return a != "" && normalize(a) == normalize(b)
}

func normalize(addr string) string {
	r := strings.NewReplacer(":", "", "-", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(addr)))
}

type conn struct {
	d           *Driver
	addr        string
	notes       chan []byte
	rssi        int
	disconnect  func() error
	unsubscribe func() error

	mu     sync.Mutex
	closed bool
}

func (c *conn) Notifications() <-chan []byte { return c.notes }

// RSSI is the strength seen while discovering the peripheral.
func (c *conn) RSSI() (int, bool) { return c.rssi, true }

func (c *conn) Close() error {
	c.d.mu.Lock()
	if c.d.conns[c.addr] == c {
		delete(c.d.conns, c.addr)
	}
	c.d.mu.Unlock()

	c.mu.Lock()
	wasClosed := c.closed
	c.mu.Unlock()
	c.drop()
	if wasClosed {
		return nil
	}
	return errors.Join(c.unsubscribe(), c.disconnect())
}

func (c *conn) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.notes)
	}
}

func (c *conn) onNotify(buf []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.notes <- append([]byte(nil), buf...):
	default:
	}
}
