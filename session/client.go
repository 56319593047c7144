// Package session implements the Session Client: a single logical MQTT
// v5 connection with a bounded submission queue, ordered acknowledgement
// of incoming QoS>=1 publishes, and automatic classification of
// disconnects into retryable versus fatal.
//
// It sits directly on top of the transport package, which owns the wire
// protocol, packet IDs and the low-level reconnect loop; this package owns
// submission ordering, ack ordering and the lifecycle state machine the
// rest of the runtime reasons about.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lattice-iot/meridian/errs"
	"github.com/lattice-iot/meridian/transport"
)

// Message is an application message delivered to a Handler. Ack is nil at
// QoS 0; at QoS 1/2 the handler must call Client.Acknowledge(ack) once it
// has safely processed the payload.
type Message struct {
	Topic      string
	Payload    []byte
	QoS        transport.QoS
	Retained   bool
	Duplicate  bool
	Properties *transport.Properties
	Ack        *AckHandle
}

// Handler processes one delivered Message.
type Handler func(*Client, Message)

// Options configures a Client. The zero value is not usable; build one
// by hand or with config.Settings.SessionOptions and pass it to Connect.
type Options struct {
	// ServerURL is the broker address, e.g. "tcp://broker.example:1883".
	ServerURL string

	// NodeID identifies this client; it is used as the transport client
	// ID when ClientID is empty.
	NodeID string

	// ClientID overrides the MQTT client identifier. Defaults to NodeID.
	ClientID string

	// MaxPendingMessages bounds the submission queue. Zero selects
	// DefaultMaxPendingMessages.
	MaxPendingMessages int

	// OverflowPolicy selects what happens when the submission queue is
	// full. Defaults to DropNew.
	OverflowPolicy OverflowPolicy

	// TransportOptions are forwarded to transport.DialContext verbatim,
	// in addition to the ones this package derives from the fields
	// above (client ID, manual ack, connection callbacks).
	TransportOptions []transport.Option

	// MaxRetryAttempts bounds how many times the sender retries a single
	// work item across retryable transport failures before giving up.
	// Zero selects DefaultMaxRetryAttempts.
	MaxRetryAttempts int

	// DefaultHandler receives messages for subscriptions registered
	// without a per-topic handler. May be nil.
	DefaultHandler Handler

	Logger *slog.Logger
}

// DefaultMaxRetryAttempts bounds retry of a single work item across
// retryable transport failures when Options.MaxRetryAttempts is zero.
const DefaultMaxRetryAttempts = 5

// Client is the Session Client. It is safe for concurrent use.
type Client struct {
	opts Options
	log  *slog.Logger

	state stateBox
	acks  *ackList
	queue *workQueue

	mu            sync.Mutex
	tr            *transport.Client
	redial        func(ctx context.Context) (*transport.Client, error)
	reconnectedCh chan struct{}

	closed chan struct{}
}

// signalReconnected wakes every sender currently blocked in waitReconnect.
// It is wired as part of the transport's OnConnect callback, so it fires
// on the initial dial and on every successful reconnect the transport's
// own reconnect loop performs.
func (c *Client) signalReconnected() {
	c.mu.Lock()
	if c.reconnectedCh != nil {
		close(c.reconnectedCh)
		c.reconnectedCh = nil
	}
	c.mu.Unlock()
}

// waitReconnect blocks until the client reaches Connected again, the
// client is disposed, or ctx is cancelled. It returns false in the latter
// two cases.
func (c *Client) waitReconnect(ctx context.Context) bool {
	if c.state.load() == Connected {
		return true
	}
	c.mu.Lock()
	if c.reconnectedCh == nil {
		c.reconnectedCh = make(chan struct{})
	}
	ch := c.reconnectedCh
	c.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-c.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// Connect dials the broker and starts the sender loop. The returned
// Client is in state Connected on success; subscription resumption after
// a lost session is handled by the transport's session store.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	if opts.MaxPendingMessages <= 0 {
		opts.MaxPendingMessages = DefaultMaxPendingMessages
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	clientID := opts.ClientID
	if clientID == "" {
		clientID = opts.NodeID
	}

	c := &Client{
		opts:   opts,
		log:    opts.Logger.With("component", "session"),
		acks:   newAckList(),
		queue:  newWorkQueue(opts.MaxPendingMessages, opts.OverflowPolicy),
		closed: make(chan struct{}),
	}
	c.redial = func(ctx context.Context) (*transport.Client, error) {
		dialOpts := []transport.Option{
			transport.WithClientID(clientID),
			transport.WithManualAck(true),
			transport.WithOnConnect(func(_ *transport.Client) {
				c.state.store(Connected)
				c.signalReconnected()
			}),
			transport.WithOnConnectionLost(c.handleConnectionLost),
		}
		if opts.DefaultHandler != nil {
			dialOpts = append(dialOpts, transport.WithDefaultPublishHandler(c.wrapHandler(opts.DefaultHandler)))
		}
		dialOpts = append(dialOpts, opts.TransportOptions...)
		return transport.DialContext(ctx, opts.ServerURL, dialOpts...)
	}

	c.state.store(Connecting)
	tr, err := c.redial(ctx)
	if err != nil {
		c.state.store(Disconnected)
		return nil, err
	}
	c.mu.Lock()
	c.tr = tr
	c.mu.Unlock()
	c.state.store(Connected)

	go c.senderLoop()
	return c, nil
}

// handleConnectionLost is wired as the transport OnConnectionLost callback.
// A retryable loss leaves the queue and ack list intact, since the
// transport layer's own reconnect loop will resume delivery; a fatal loss
// drains the queue and resets the ack list so stale work fails fast.
func (c *Client) handleConnectionLost(_ *transport.Client, err error) {
	if c.state.load() == Disposed {
		return
	}
	if transport.IsRetryableConnectError(err) {
		c.state.store(Reconnecting)
		c.log.Warn("session connection lost, retrying", "error", err)
		return
	}
	c.log.Error("session connection lost fatally", "error", err)
	c.state.store(Disconnected)
	c.acks.reset()
	c.queue.drainAll(&errs.Error{Kind: errs.SessionLost, Message: "connection lost with a non-retryable reason", Parent: err})
}

// Reconnect re-dials the broker using the options supplied to Connect,
// after a prior Disconnect or a fatal connection loss. It is a no-op if
// the client is already connected or disposed.
func (c *Client) Reconnect(ctx context.Context) error {
	switch c.state.load() {
	case Connected, Connecting:
		return nil
	case Disposed:
		return &errs.Error{Kind: errs.ObjectDisposed, Message: "session client is disposed"}
	}
	c.state.store(Connecting)
	tr, err := c.redial(ctx)
	if err != nil {
		c.state.store(Disconnected)
		return err
	}
	c.mu.Lock()
	c.tr = tr
	c.mu.Unlock()
	c.state.store(Connected)
	return nil
}

// State reports the current lifecycle state.
func (c *Client) State() State {
	return c.state.load()
}

// Done returns a channel that closes once the client has been disposed.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// senderLoop is the single goroutine that pops work items off the queue
// in submission order and performs them against the current transport
// connection, preserving one FIFO ordering across publish, subscribe and
// unsubscribe. Each item is driven to completion (success, fatal error,
// cancellation or retry exhaustion) before the next one is dequeued.
func (c *Client) senderLoop() {
	for {
		item, ok := c.queue.next()
		if !ok {
			return
		}
		if item.ctx.Err() != nil {
			item.complete(&errs.Error{Kind: errs.Cancellation, Message: "operation cancelled before it reached the wire"})
			continue
		}
		c.sendWithRetry(item)
	}
}

// sendWithRetry performs item against the current connection, retrying
// across retryable transport failures per the queue discipline: the
// item's sent flag tracks whether it reached the wire, reset to false on
// every retryable failure so a concurrent observer never sees it as
// delivered while a retry is pending. Retry waits for the transport's own
// reconnect loop to re-establish the connection rather than dialing
// itself. Exhausting the retry budget fails the item and the rest of the
// queue with RetryExpired and forces the client into a disconnected,
// session-lost state.
func (c *Client) sendWithRetry(item *workItem) {
	maxAttempts := c.opts.MaxRetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRetryAttempts
	}

	for attempt := 1; ; attempt++ {
		item.sent = true
		err := item.perform()
		if err == nil {
			item.complete(nil)
			return
		}
		if !transport.IsRetryableConnectError(err) {
			item.complete(err)
			return
		}

		item.sent = false
		if attempt >= maxAttempts {
			lost := &errs.Error{Kind: errs.RetryExpired, Message: "retry policy exhausted after repeated retryable failures", Parent: err}
			item.complete(lost)
			c.state.store(Disconnected)
			c.acks.reset()
			c.queue.drainAll(lost)
			return
		}

		c.log.Warn("retrying work item after retryable transport failure", "attempt", attempt, "error", err)
		if !c.waitReconnect(item.ctx) {
			if item.ctx.Err() != nil {
				item.complete(&errs.Error{Kind: errs.Cancellation, Message: "operation cancelled while awaiting reconnection"})
			} else {
				item.complete(&errs.Error{Kind: errs.ObjectDisposed, Message: "session client was disposed while awaiting reconnection"})
			}
			return
		}
	}
}

func (c *Client) submit(ctx context.Context, perform func() error) error {
	if c.state.load() == Disposed {
		return &errs.Error{Kind: errs.ObjectDisposed, Message: "session client is disposed"}
	}
	w := newWorkItem(ctx, perform)
	if err := c.queue.submit(w); err != nil {
		return err
	}
	if err := w.wait(ctx); err != nil {
		c.queue.cancelIfQueued(w)
		return err
	}
	return nil
}

// Publish enqueues an application message for publication, resolving once
// the broker has acknowledged it at the requested QoS (or immediately at
// QoS 0 once the packet is written).
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, opts ...transport.PublishOption) error {
	return c.submit(ctx, func() error {
		c.mu.Lock()
		tr := c.tr
		c.mu.Unlock()
		return tr.Publish(topic, payload, opts...).Wait(ctx)
	})
}

// Subscribe enqueues a subscription request. handler receives every
// message delivered for topic; at QoS >= 1 the handler must call
// Client.Acknowledge(msg.Ack) once it is safe for the broker to consider
// the message delivered.
func (c *Client) Subscribe(ctx context.Context, topic string, qos transport.QoS, handler Handler, opts ...transport.SubscribeOption) error {
	wrapped := c.wrapHandler(handler)
	return c.submit(ctx, func() error {
		c.mu.Lock()
		tr := c.tr
		c.mu.Unlock()
		return tr.Subscribe(topic, qos, wrapped, opts...).Wait(ctx)
	})
}

// wrapHandler adapts a session Handler into a transport.MessageHandler,
// minting an AckHandle for every QoS >= 1 delivery before invoking it.
func (c *Client) wrapHandler(handler Handler) transport.MessageHandler {
	return func(_ *transport.Client, m transport.Message) {
		var ack *AckHandle
		if m.QoS > 0 {
			ack = c.acks.register(m.PacketID, m.QoS)
		}
		handler(c, Message{
			Topic:      m.Topic,
			Payload:    m.Payload,
			QoS:        m.QoS,
			Retained:   m.Retained,
			Duplicate:  m.Duplicate,
			Properties: m.Properties,
			Ack:        ack,
		})
	}
}

// Unsubscribe enqueues an unsubscribe request for the given topic filters.
func (c *Client) Unsubscribe(ctx context.Context, topics ...string) error {
	return c.submit(ctx, func() error {
		c.mu.Lock()
		tr := c.tr
		c.mu.Unlock()
		return tr.Unsubscribe(topics...).Wait(ctx)
	})
}

// Acknowledge marks a received QoS>=1 message ready for acknowledgement
// and releases the PUBACK/PUBREC for it and for every earlier still-ready
// message, in arrival order. Calling it with a handle from a dropped
// connection generation returns a StateInvalid error rather than silently
// succeeding.
func (c *Client) Acknowledge(h *AckHandle) error {
	if h == nil {
		return nil
	}
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()
	return c.acks.release(h, func(packetID uint16, qos transport.QoS) error {
		return tr.Acknowledge(packetID, qos)
	})
}

// SendAuthData triggers an MQTT v5 AUTH re-authentication exchange on the
// current connection using the Authenticator supplied at dial time.
func (c *Client) SendAuthData(ctx context.Context) error {
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()
	if tr == nil {
		return &errs.Error{Kind: errs.StateInvalid, Message: "session client is not connected"}
	}
	return tr.Reauthenticate(ctx)
}

// Disconnect sends a clean MQTT DISCONNECT and fails any items still
// pending in the queue with SessionLost rather than leaving them to hang.
// The client may be reconnected afterward with Reconnect.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()
	c.state.store(Disconnected)
	c.queue.drainAll(&errs.Error{Kind: errs.SessionLost, Message: "session client disconnected by caller"})
	if tr == nil {
		return nil
	}
	return tr.Disconnect(ctx)
}

// Close disposes the client permanently: it disconnects, drains any
// queued work with ObjectDisposed, and renders the client unusable.
func (c *Client) Close(ctx context.Context) error {
	prev := c.state.transition(Disposed)
	if prev == Disposed {
		return nil
	}
	close(c.closed)
	c.queue.close()
	c.queue.drainAll(&errs.Error{Kind: errs.ObjectDisposed, Message: "session client was closed"})
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()
	if tr == nil {
		return nil
	}
	return tr.Disconnect(ctx)
}
