package broker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// recorder keeps the ordered list of transport calls made by the gateway.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type publishedMessage struct {
	exchange   string
	routingKey string
	msg        Message
}

type fakeChannel struct {
	rec *recorder

	declareErr error
	publishErr error
	closeErr   error

	// block, when set, holds Publish until it is closed; entered is
	// signalled once Publish has been called.
	block   chan struct{}
	entered chan struct{}

	inFlight atomic.Int32
	overlaps atomic.Int32

	mu        sync.Mutex
	declares  int
	published []publishedMessage
}

func (c *fakeChannel) enter() {
	if c.inFlight.Add(1) > 1 {
		c.overlaps.Add(1)
	}
	runtime.Gosched()
}

func (c *fakeChannel) leave() {
	c.inFlight.Add(-1)
}

func (c *fakeChannel) DeclareExchange(ctx context.Context, name, kind string, durable bool) error {
	c.enter()
	defer c.leave()
	c.rec.record("channel.declare %s %s durable=%t", name, kind, durable)
	if c.declareErr != nil {
		return c.declareErr
	}
	c.mu.Lock()
	c.declares++
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Publish(ctx context.Context, exchange, routingKey string, msg Message) error {
	c.enter()
	defer c.leave()
	if c.entered != nil {
		close(c.entered)
		c.entered = nil
	}
	if c.block != nil {
		<-c.block
	}
	c.rec.record("channel.publish %s %s %s", exchange, routingKey, msg.Body)
	if c.publishErr != nil {
		return c.publishErr
	}
	c.mu.Lock()
	c.published = append(c.published, publishedMessage{exchange: exchange, routingKey: routingKey, msg: msg})
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Close() error {
	c.rec.record("channel.close")
	return c.closeErr
}

func (c *fakeChannel) publishedMessages() []publishedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publishedMessage(nil), c.published...)
}

func (c *fakeChannel) declareCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.declares
}

type fakeConnection struct {
	rec        *recorder
	ch         *fakeChannel
	channelErr error
	closeErr   error
	closed     atomic.Bool
}

func (c *fakeConnection) Channel() (Channel, error) {
	c.rec.record("connection.channel")
	if c.channelErr != nil {
		return nil, c.channelErr
	}
	return c.ch, nil
}

func (c *fakeConnection) Close() error {
	c.rec.record("connection.close")
	c.closed.Store(true)
	return c.closeErr
}

func (c *fakeConnection) IsClosed() bool {
	return c.closed.Load()
}

// fakeBroker hands out a fresh connection and channel on every dial.
type fakeBroker struct {
	rec     *recorder
	dialErr error

	// configure, when set, adjusts each new connection before it is returned.
	configure func(*fakeConnection)

	mu    sync.Mutex
	dials []string
	conns []*fakeConnection
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{rec: &recorder{}}
}

func (b *fakeBroker) dial(ctx context.Context, url string) (Connection, error) {
	b.rec.record("dial %s", url)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials = append(b.dials, url)
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	conn := &fakeConnection{rec: b.rec, ch: &fakeChannel{rec: b.rec}}
	if b.configure != nil {
		b.configure(conn)
	}
	b.conns = append(b.conns, conn)
	return conn, nil
}

func (b *fakeBroker) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.dials)
}

func (b *fakeBroker) lastConn() *fakeConnection {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.conns) == 0 {
		return nil
	}
	return b.conns[len(b.conns)-1]
}
