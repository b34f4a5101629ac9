package mqttbridge_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/shotlink/internal/adapters/link"
	"github.com/okian/shotlink/internal/adapters/link/mqttbridge"
	"github.com/okian/shotlink/internal/domain/model"
	"github.com/okian/shotlink/pkg/logger"
)

type token struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *token {
	t := &token{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *token) Wait() bool                     { <-t.done; return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{}          { return t.done }
func (t *token) Error() error                   { return t.err }

type message struct {
	topic   string
	payload []byte
}

func (m message) Duplicate() bool   { return false }
func (m message) Qos() byte         { return 0 }
func (m message) Retained() bool    { return false }
func (m message) Topic() string     { return m.topic }
func (m message) MessageID() uint16 { return 0 }
func (m message) Payload() []byte   { return m.payload }
func (m message) Ack()              {}

// broker is an in-process mqtt.Client that routes publishes to wildcard
// subscriptions of the form a/b/+.
type broker struct {
	mu           sync.Mutex
	open         bool
	connectErr   error
	subscribeErr error
	subs         map[string]mqtt.MessageHandler
	unsubscribed []string
}

func newBroker() *broker { return &broker{subs: make(map[string]mqtt.MessageHandler)} }

func (b *broker) IsConnected() bool { return b.IsConnectionOpen() }
func (b *broker) IsConnectionOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
func (b *broker) Connect() mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connectErr == nil {
		b.open = true
	}
	return doneToken(b.connectErr)
}
func (b *broker) Disconnect(uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
}
func (b *broker) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	b.mu.Lock()
	var h mqtt.MessageHandler
	for filter, fn := range b.subs {
		if filter[:len(filter)-1] == topic[:len(filter)-1] {
			h = fn
		}
	}
	b.mu.Unlock()
	if h != nil {
		h(b, message{topic: topic, payload: payload.([]byte)})
	}
	return doneToken(nil)
}
func (b *broker) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return doneToken(b.subscribeErr)
	}
	b.subs[topic] = cb
	return doneToken(nil)
}
func (b *broker) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return doneToken(nil)
}
func (b *broker) Unsubscribe(topics ...string) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		delete(b.subs, t)
		b.unsubscribed = append(b.unsubscribed, t)
	}
	return doneToken(nil)
}
func (b *broker) AddRoute(string, mqtt.MessageHandler)    {}
func (b *broker) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func TestDriver(t *testing.T) {
	ctx := context.Background()
	timer := link.Descriptor{ID: "timer-1", Kind: model.PeripheralTimer, Address: "C4:11"}

	Convey("Given a bridge driver", t, func() {
		b := newBroker()
		d := mqttbridge.NewWithClient(b, "shotlink/peripherals/", logger.Nop())

		Convey("When a peripheral connects", func() {
			c, err := d.Connect(ctx, timer)
			So(err, ShouldBeNil)

			Convey("Then the broker is connected and the address topics subscribed", func() {
				So(b.IsConnectionOpen(), ShouldBeTrue)
				So(b.subs, ShouldContainKey, "shotlink/peripherals/C4:11/+")
			})

			Convey("Then notifications are relayed", func() {
				b.Publish("shotlink/peripherals/C4:11/notify", 0, false, []byte{1, 3, 1})
				So(<-c.Notifications(), ShouldResemble, []byte{1, 3, 1})
			})

			Convey("Then signal strength is tracked", func() {
				_, ok := c.RSSI()
				So(ok, ShouldBeFalse)
				b.Publish("shotlink/peripherals/C4:11/rssi", 0, false, []byte("-67\n"))
				rssi, ok := c.RSSI()
				So(ok, ShouldBeTrue)
				So(rssi, ShouldEqual, -67)
			})

			Convey("Then a gateway disconnect ends the connection", func() {
				b.Publish("shotlink/peripherals/C4:11/state", 0, false, []byte("disconnected"))
				_, open := <-c.Notifications()
				So(open, ShouldBeFalse)
			})

			Convey("Then closing unsubscribes", func() {
				So(c.Close(), ShouldBeNil)
				So(b.unsubscribed, ShouldResemble, []string{"shotlink/peripherals/C4:11/+"})
				_, open := <-c.Notifications()
				So(open, ShouldBeFalse)
			})

			Convey("Then DropAll ends it", func() {
				d.DropAll()
				_, open := <-c.Notifications()
				So(open, ShouldBeFalse)
			})
		})

		Convey("When the descriptor has no address", func() {
			_, err := d.Connect(ctx, link.Descriptor{ID: "sensor-9", Kind: model.PeripheralMotion})

			Convey("Then the id is used as address", func() {
				So(err, ShouldBeNil)
				So(b.subs, ShouldContainKey, "shotlink/peripherals/sensor-9/+")
			})
		})

		Convey("When the broker refuses the connection", func() {
			b.connectErr = errors.New("refused")
			_, err := d.Connect(ctx, timer)

			Convey("Then the error is returned for the link manager to retry", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "refused")
			})
		})

		Convey("When the subscription fails", func() {
			b.subscribeErr = errors.New("not authorized")
			_, err := d.Connect(ctx, timer)

			Convey("Then connect fails", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "not authorized")
			})
		})
	})
}
