package link

import (
	"context"

	"github.com/okian/shotlink/internal/domain/model"
)

// Descriptor identifies a peripheral independently of any connection.
type Descriptor struct {
	ID   string
	Kind model.PeripheralKind
	Name string
	// Address is driver specific: a BLE MAC or UUID, or an MQTT topic suffix.
	Address string
}

// Driver discovers a peripheral by identity and connects to it.
type Driver interface {
	// Connect returns once the peripheral's notification channel is
	// subscribed.
	Connect(ctx context.Context, d Descriptor) (Conn, error)
}

// Conn is one live connection to a peripheral.
type Conn interface {
	// Notifications delivers payloads until the connection drops, then
	// is closed.
	Notifications() <-chan []byte
	// RSSI returns the last known signal strength in dBm.
	RSSI() (int, bool)
	// Close unsubscribes and disconnects. It is safe to call twice.
	Close() error
}
