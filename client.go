// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package jrpcpeer

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/tinymesh/jrpcpeer/code"
	"github.com/tinymesh/jrpcpeer/metrics"
)

// ErrClientBusy is returned by Client.Close when pending requests still
// have live expiry timers. The caller should retry after the timeout
// window: a registry cannot be torn down out from under a timer that
// might still fire.
var ErrClientBusy = errors.New("jrpcpeer: client has pending requests")

// A Status classifies how a pending call's completion was fulfilled.
type Status int

const (
	StatusOK Status = iota
	StatusClientError
	StatusServerError
	StatusTimeout
	StatusTooManyRequests
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusClientError:
		return "ClientError"
	case StatusServerError:
		return "ServerError"
	case StatusTimeout:
		return "Timeout"
	case StatusTooManyRequests:
		return "TooManyRequests"
	default:
		return "Status(?)"
	}
}

// A CallResult is delivered to a Completion exactly once, fulfilling a
// pending request.
type CallResult struct {
	Status Status
	Result json.RawMessage // set iff Status == StatusOK
	Err    *Error           // set iff Status == StatusServerError, or carries diagnostic detail otherwise
}

// A Completion receives the outcome of a call issued through Client.Send. It
// is invoked exactly once, from whichever of {response, timer, send
// failure} occurs first, and never from inside the Client's lock.
type Completion func(*CallResult)

func noopCompletion(*CallResult) {}

// A DeliverStatus reports the outcome of handing one response payload to a
// Client's registry, distinct from the Status that eventually reaches the
// original Completion.
type DeliverStatus int

const (
	DeliverOK DeliverStatus = iota
	DeliverInvalidPayload
	DeliverUnmatched
)

type pendingState int

const (
	stateArmed pendingState = iota
	stateCompleted
)

type pendingEntry struct {
	id         uint32
	completion Completion
	timer      *time.Timer
	state      pendingState
}

// Client is the client-side half of a peer: it tracks outbound requests,
// correlates inbound responses, and expires stale entries. The zero Client
// is not usable; construct one with NewClient.
type Client struct {
	opts   *ClientOptions
	output OutputFunc

	mu      sync.Mutex
	entries map[uint32]*pendingEntry

	metrics *metrics.M
}

// NewClient constructs a Client that hands serialized requests to output. A
// nil *ClientOptions selects defaults (no request limit).
func NewClient(output OutputFunc, opts *ClientOptions) *Client {
	return &Client{
		opts:    opts,
		output:  output,
		entries: make(map[uint32]*pendingEntry),
		metrics: metrics.New(),
	}
}

// Metrics returns the client's metrics collector.
func (c *Client) Metrics() *metrics.M { return c.metrics }

// Send implements send_request: it issues a request with the given timeout
// and hands the eventual outcome to done. A timeout of zero uses
// ClientOptions.DefaultTimeout instead; every request is armed with an
// expiry timer, so callers that want a long-lived call should pass an
// explicit, generous timeout rather than relying on zero. A nil done is
// replaced with a no-op.
//
// Send never blocks and never returns an error directly -- every failure
// mode, including "too many requests" and "the sink rejected the bytes", is
// surfaced by fulfilling done.
func (c *Client) Send(timeout time.Duration, method string, params json.RawMessage, done Completion) {
	if done == nil {
		done = noopCompletion
	}
	if timeout == 0 {
		timeout = c.opts.defaultTimeout()
	}
	log := c.opts.logFunc()

	c.mu.Lock()
	if max := c.opts.maxRequests(); max > 0 && len(c.entries) >= max {
		c.mu.Unlock()
		c.metrics.Count("client.too_many_requests", 1)
		log("jrpcpeer: client registry full (%d entries)", max)
		done(&CallResult{Status: StatusTooManyRequests})
		return
	}
	id := freshID(func(n uint32) bool { _, ok := c.entries[n]; return ok })
	entry := &pendingEntry{id: id, completion: done, state: stateArmed}
	c.entries[id] = entry
	c.mu.Unlock()

	req, err := NewRequest(NumberID(id), method, params)
	if err != nil {
		c.dropEntry(id)
		done(&CallResult{Status: StatusClientError, Err: Errorf(code.InternalError, "build request: %v", err)})
		return
	}

	if err := c.output(req); err != nil {
		c.dropEntry(id)
		log("jrpcpeer: output rejected request %d: %v", id, err)
		done(&CallResult{Status: StatusClientError, Err: Errorf(code.SystemError, "output rejected: %v", err)})
		return
	}

	c.mu.Lock()
	entry.timer = time.AfterFunc(timeout, func() { c.expire(id) })
	c.mu.Unlock()
}

func (c *Client) dropEntry(id uint32) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Notify implements send_notification: it builds a notification envelope
// and hands it to the sink synchronously. No entry is created and no timer
// armed, since a notification has no response to await.
func (c *Client) Notify(method string, params json.RawMessage) Status {
	msg, err := NewNotification(method, params)
	if err != nil {
		return StatusClientError
	}
	if err := c.output(msg); err != nil {
		return StatusClientError
	}
	return StatusOK
}

// Deliver implements read_response. raw must be a single (non-batch) parsed
// JSON value. It returns DeliverUnmatched, without mutating any state, if no
// Armed entry has the response's id -- this is also what happens to a
// second response racing a first for the same id (invariant 7).
func (c *Client) Deliver(raw json.RawMessage) DeliverStatus {
	id, result, errv, ok := IsValidResponse(raw)
	if !ok {
		return DeliverInvalidPayload
	}
	n, _ := id.Uint32()

	c.mu.Lock()
	entry, found := c.entries[n]
	if !found || entry.state != stateArmed {
		c.mu.Unlock()
		return DeliverUnmatched
	}
	entry.state = stateCompleted
	c.mu.Unlock()

	c.metrics.Count("client.responses", 1)
	if errv != nil {
		entry.completion(&CallResult{Status: StatusServerError, Err: errv})
	} else {
		entry.completion(&CallResult{Status: StatusOK, Result: cloneRaw(result)})
	}
	return DeliverOK
}

// expire is the timer callback for a pending entry. The entry is
// always removed here regardless of its state; the completion is fulfilled
// with StatusTimeout only if the entry was still Armed, since a Completed
// entry was already fulfilled by Deliver and must not be fulfilled twice.
func (c *Client) expire(id uint32) {
	c.mu.Lock()
	entry, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.entries, id)
	wasArmed := entry.state == stateArmed
	c.mu.Unlock()

	if wasArmed {
		c.metrics.Count("client.timeouts", 1)
		entry.completion(&CallResult{Status: StatusTimeout})
	}
}

// Pending reports the number of entries the registry currently holds,
// Armed or Completed.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close reports whether the registry can be safely discarded. It returns
// ErrClientBusy while any entries -- Armed or Completed -- still have a
// live expiry timer, since freeing the registry out from under a timer
// that later fires would touch state that no longer exists.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) > 0 {
		return ErrClientBusy
	}
	return nil
}
