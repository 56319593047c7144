// Package hlc implements a Hybrid Logical Clock: a causal timestamp
// combining wall-clock milliseconds, a monotonic counter, and a node
// identifier. Values are attached to every command request, response, and
// telemetry message so receivers can order events causally across a fleet
// of clients whose wall clocks are only approximately synchronized.
package hlc

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lattice-iot/meridian/errs"
)

// DefaultMaxClockDrift is the default bound on how far a clock's stored
// timestamp may diverge from the local wall clock before an update is
// rejected.
const DefaultMaxClockDrift = 60 * time.Second

// MaxCounter is the largest representable counter value; encode/decode use
// a five-digit base-10 field, so a counter must stay below 100000.
const MaxCounter = 99999

// Value is an immutable HLC reading: milliseconds since the Unix epoch,
// a causal counter, and the node that produced it.
type Value struct {
	TimestampMS int64
	Counter     uint32
	NodeID      string
}

// Compare orders two values lexicographically on (timestamp, counter,
// node-id). It returns -1, 0, or 1 the way bytes.Compare does.
func (v Value) Compare(other Value) int {
	if v.TimestampMS != other.TimestampMS {
		if v.TimestampMS < other.TimestampMS {
			return -1
		}
		return 1
	}
	if v.Counter != other.Counter {
		if v.Counter < other.Counter {
			return -1
		}
		return 1
	}
	return strings.Compare(v.NodeID, other.NodeID)
}

// Encode renders the value as NNNNNNNNNNNNNNN:CCCCC:node — a 15-digit
// zero-padded millisecond timestamp, a 5-digit zero-padded counter, and the
// node id, colon-separated.
func (v Value) Encode() string {
	return fmt.Sprintf("%015d:%05d:%s", v.TimestampMS, v.Counter, v.NodeID)
}

// Decode parses the wire format produced by Encode. headerName is used only
// to populate errs.Error.HeaderName when the input is malformed.
func Decode(headerName, s string) (Value, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Value{}, malformed(headerName, s)
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || len(parts[0]) != 15 {
		return Value{}, malformed(headerName, s)
	}
	counter, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil || len(parts[1]) != 5 {
		return Value{}, malformed(headerName, s)
	}
	if parts[2] == "" {
		return Value{}, malformed(headerName, s)
	}
	return Value{TimestampMS: ts, Counter: uint32(counter), NodeID: parts[2]}, nil
}

func malformed(headerName, value string) *errs.Error {
	return &errs.Error{
		Kind:        errs.HeaderInvalid,
		HeaderName:  headerName,
		HeaderValue: value,
		IsShallow:   true,
		Message:     "value does not conform to the HLC wire format",
	}
}

// Clock is a mutable, mutually-exclusive HLC instance. The zero value is
// not usable; construct one with New.
type Clock struct {
	mu        sync.Mutex
	current   Value
	maxDrift  time.Duration
	nowFunc   func() time.Time
}

// Option configures a Clock at construction.
type Option func(*Clock)

// WithMaxDrift overrides DefaultMaxClockDrift.
func WithMaxDrift(d time.Duration) Option {
	return func(c *Clock) { c.maxDrift = d }
}

// withNowFunc is test-only: it lets unit tests control the wall clock
// without sleeping real time.
func withNowFunc(f func() time.Time) Option {
	return func(c *Clock) { c.nowFunc = f }
}

// New constructs a Clock for the given node id, initialized to the current
// wall time with a zero counter.
func New(nodeID string, opts ...Option) *Clock {
	c := &Clock{
		maxDrift: DefaultMaxClockDrift,
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.current = Value{TimestampMS: c.nowFunc().UnixMilli(), Counter: 0, NodeID: nodeID}
	return c
}

// Now returns the clock's current value without advancing it.
func (c *Clock) Now() Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// UpdateNow advances the clock against the current wall time, as if
// receiving an update from a fresh peer clock reading "now" with a zero
// counter. This is the operation a Session Client or Command Invoker calls
// when stamping an outgoing message with no incoming peer value to merge.
func (c *Clock) UpdateNow() (Value, error) {
	now := c.nowFunc()
	return c.Update(Value{TimestampMS: now.UnixMilli(), Counter: 0, NodeID: c.current.NodeID})
}

// Update merges other into the clock per the HLC update rule and returns
// the resulting value. Updates that would push the stored timestamp beyond
// now ± maxDrift, or that would overflow the counter, are rejected and the
// clock is left unchanged.
func (c *Clock) Update(other Value) (Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc().UnixMilli()

	next := c.current
	switch {
	case now > c.current.TimestampMS && now > other.TimestampMS:
		next.TimestampMS = now
		next.Counter = 0
	case c.current.TimestampMS == other.TimestampMS:
		next.Counter = max(c.current.Counter, other.Counter) + 1
	case c.current.TimestampMS > other.TimestampMS:
		next.Counter = c.current.Counter + 1
	default:
		next.TimestampMS = other.TimestampMS
		next.Counter = other.Counter + 1
	}

	drift := next.TimestampMS - now
	if drift > c.maxDrift.Milliseconds() || drift < -c.maxDrift.Milliseconds() {
		return Value{}, &errs.Error{
			Kind:    errs.StateInvalid,
			Message: "HLC update would exceed the configured maximum clock drift",
		}
	}
	if next.Counter > MaxCounter {
		return Value{}, &errs.Error{
			Kind:    errs.StateInvalid,
			Message: "HLC counter overflow",
		}
	}

	c.current = next
	return c.current, nil
}
