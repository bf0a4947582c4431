// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package jrpcpeer

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tinymesh/jrpcpeer/metrics"
)

// Done receives the outcome of a server-side handler invocation: result
// must be JSON-marshalable or nil. If err is a *Error, its code and message
// are used verbatim in the response; any other non-nil error degrades to
// InternalError.
type Done func(result any, err error)

// A Handler processes one request and eventually calls done, possibly from
// an execution context other than the one that invoked Handle, at an
// arbitrary later time.
type Handler interface {
	Handle(ctx context.Context, req *Request, done Done)
}

// HandlerFunc adapts a function to the Handler interface, mirroring
// http.HandlerFunc.
type HandlerFunc func(ctx context.Context, req *Request, done Done)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, req *Request, done Done) { f(ctx, req, done) }

// DispatchResult is the outcome of a Server.Call. Output is nil when
// nothing should be written to the sink -- the payload was a notification,
// or a batch made up entirely of notifications.
type DispatchResult struct {
	Output json.RawMessage
}

// DispatchDone receives the outcome of a Server.Call.
type DispatchDone func(*DispatchResult)

func noopDispatchDone(*DispatchResult) {}

// Server is the server-side half of a peer: it validates inbound requests,
// invokes handlers, and composes single, sequential-batch, and
// parallel-batch responses.
type Server struct {
	opts      *ServerOptions
	sem       *semaphore.Weighted
	metrics   *metrics.M
	startTime time.Time

	mu       sync.Mutex
	handlers map[string]Handler
	inFlight int
	cancels  map[string]context.CancelFunc
}

// NewServer constructs a Server. A nil *ServerOptions selects defaults
// (sequential batches, no request limit, runtime.NumCPU() concurrency).
func NewServer(opts *ServerOptions) *Server {
	s := &Server{
		opts:      opts,
		sem:       semaphore.NewWeighted(opts.concurrency()),
		metrics:   metrics.New(),
		handlers:  make(map[string]Handler),
		cancels:   make(map[string]context.CancelFunc),
		startTime: time.Now(),
	}
	if opts.builtins() {
		s.handlers["rpc.cancel"] = HandlerFunc(s.handleRPCCancel)
		s.handlers["rpc.serverInfo"] = HandlerFunc(s.handleRPCServerInfo)
	}
	return s
}

// Metrics returns the server's metrics collector.
func (s *Server) Metrics() *metrics.M { return s.metrics }

// Handle implements handler_set: binds method to h, overwriting any
// existing binding for the same name. Lookups are case-sensitive.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Unhandle implements handler_unset: removes the binding for method,
// reporting false if no binding existed.
func (s *Server) Unhandle(method string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[method]; !ok {
		return false
	}
	delete(s.handlers, method)
	return true
}

func (s *Server) lookup(method string) Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[method]
}

func (s *Server) errEnvelope(id IDValue, e *Error) json.RawMessage {
	out, err := NewErrorResponse(id, e)
	if err != nil {
		return nil
	}
	return out
}

// Call is the dispatcher's single entry point. raw is one already
// JSON-parseable payload -- an object (single request), an array (batch),
// or anything else (rejected as InvalidRequest). done is called exactly
// once with the bytes to hand to the sink, or a nil Output for no output.
func (s *Server) Call(ctx context.Context, raw json.RawMessage, done DispatchDone) {
	if done == nil {
		done = noopDispatchDone
	}
	switch firstByte(raw) {
	case '{':
		s.callSingle(ctx, raw, func(out json.RawMessage, fatal error) {
			if fatal != nil {
				done(&DispatchResult{})
				return
			}
			done(&DispatchResult{Output: out})
		})
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
			done(&DispatchResult{Output: s.errEnvelope(NullID(), errInvalidRequest)})
			return
		}
		if s.opts.parallel() {
			s.callBatchParallel(ctx, items, done)
		} else {
			s.callBatchSequential(ctx, items, done)
		}
	default:
		done(&DispatchResult{Output: s.errEnvelope(NullID(), errInvalidRequest)})
	}
}

// callSingle runs the single-request path. done receives either the
// serialized response (nil for a notification) or a non-nil fatal error if
// the Result envelope for a handler's successful result could not be built.
// Call resolves a single request with no output in that case; the batch
// paths replace the whole batch's output with one InternalError envelope.
func (s *Server) callSingle(ctx context.Context, raw json.RawMessage, done func(out json.RawMessage, fatal error)) {
	s.mu.Lock()
	limit := s.opts.maxRequests()
	over := limit > 0 && s.inFlight >= limit
	if !over {
		s.inFlight++
	}
	s.mu.Unlock()
	if over {
		s.metrics.Count("server.too_many_in_flight", 1)
		id := NullID()
		if _, rid, notify, ok := IsValidRequest(raw); ok && !notify {
			id = rid
		}
		done(s.errEnvelope(id, errTooManyInFlight), nil)
		return
	}

	req, ok := ParseRequest(raw)
	if !ok {
		s.decFlight()
		s.metrics.Count("server.invalid_request", 1)
		done(s.errEnvelope(NullID(), errInvalidRequest), nil)
		return
	}
	method, isNotification := req.method, req.notify
	id := IDValue{raw: req.id}

	h := s.lookup(method)
	if h == nil {
		s.decFlight()
		s.metrics.Count("server.method_not_found", 1)
		if isNotification {
			done(nil, nil)
			return
		}
		done(s.errEnvelope(id, errMethodNotFound), nil)
		return
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.decFlight()
		done(s.errEnvelope(id, errInternalError), nil)
		return
	}

	hctx, cancel := context.WithCancel(ctx)
	cancelKey := ""
	if !isNotification {
		cancelKey = id.String()
		s.mu.Lock()
		s.cancels[cancelKey] = cancel
		s.mu.Unlock()
	}

	hctx = context.WithValue(hctx, inboundRequestKey{}, req)
	hctx = context.WithValue(hctx, serverKey{}, s)

	s.opts.rpcLog().LogRequest(hctx, req)
	s.metrics.Count("server.requests", 1)

	h.Handle(hctx, req, func(result any, herr error) {
		s.sem.Release(1)
		if cancelKey != "" {
			s.mu.Lock()
			delete(s.cancels, cancelKey)
			s.mu.Unlock()
		}
		cancel()
		s.decFlight()

		if isNotification {
			done(nil, nil)
			return
		}
		if herr == nil {
			out, merr := json.Marshal(result)
			if merr != nil {
				s.opts.rpcLog().LogResponse(hctx, id.String(), errInternalError)
				done(s.errEnvelope(id, errInternalError), nil)
				return
			}
			bits, berr := NewResult(id, out)
			if berr != nil {
				done(nil, berr)
				return
			}
			s.opts.rpcLog().LogResponse(hctx, id.String(), nil)
			done(bits, nil)
			return
		}
		var perr *Error
		if errors.As(herr, &perr) {
			s.opts.rpcLog().LogResponse(hctx, id.String(), perr)
			done(s.errEnvelope(id, perr), nil)
			return
		}
		s.opts.rpcLog().LogResponse(hctx, id.String(), errInternalError)
		done(s.errEnvelope(id, errInternalError), nil)
	})
}

func (s *Server) decFlight() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
}

// callBatchSequential runs sub-requests one at a time, preserving input
// order in the output.
func (s *Server) callBatchSequential(ctx context.Context, items []json.RawMessage, done DispatchDone) {
	s.metrics.SetMaxValue("server.batch_size", int64(len(items)))
	responses := make([]json.RawMessage, 0, len(items))
	idx := 0
	var step func()
	step = func() {
		if idx == len(items) {
			if len(responses) == 0 {
				done(&DispatchResult{})
			} else {
				done(&DispatchResult{Output: joinArray(responses)})
			}
			return
		}
		item := items[idx]
		idx++
		s.callSingle(ctx, item, func(out json.RawMessage, fatal error) {
			if fatal != nil {
				done(&DispatchResult{Output: s.errEnvelope(NullID(), errInternalError)})
				return
			}
			if out != nil {
				responses = append(responses, out)
			}
			step()
		})
	}
	step()
}

// callBatchParallel launches the sub-requests one after another without
// waiting for any of them to complete. A handler that calls done before
// returning has completed before the next sub-request is launched, so only
// asynchronous handlers overlap. Order of completion, and hence of the
// output array, is unconstrained. A sticky failure (any sub-request hitting the fatal path)
// discards whatever responses were collected and resolves to a single
// InternalError envelope once every sub-request has finished.
func (s *Server) callBatchParallel(ctx context.Context, items []json.RawMessage, done DispatchDone) {
	s.metrics.SetMaxValue("server.batch_size", int64(len(items)))
	responses := make([]json.RawMessage, 0, len(items))
	var mu sync.Mutex
	remaining := len(items)
	failed := false

	finish := func() {
		if failed {
			done(&DispatchResult{Output: s.errEnvelope(NullID(), errInternalError)})
			return
		}
		if len(responses) == 0 {
			done(&DispatchResult{})
			return
		}
		done(&DispatchResult{Output: joinArray(responses)})
	}

	for _, item := range items {
		item := item
		s.callSingle(ctx, item, func(out json.RawMessage, fatal error) {
			mu.Lock()
			if fatal != nil {
				failed = true
			} else if out != nil {
				responses = append(responses, out)
			}
			remaining--
			last := remaining == 0
			mu.Unlock()
			if last {
				finish()
			}
		})
	}
}

// ServerInfo is the payload returned by the opt-in rpc.serverInfo builtin.
type ServerInfo struct {
	Methods   []string         `json:"methods"`
	StartTime time.Time        `json:"startTime"`
	Counters  map[string]int64 `json:"counters,omitempty"`
	MaxValues map[string]int64 `json:"maxValues,omitempty"`
}

func (s *Server) handleRPCServerInfo(_ context.Context, _ *Request, done Done) {
	s.mu.Lock()
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	s.mu.Unlock()
	sort.Strings(methods)

	counters := make(map[string]int64)
	maxValues := make(map[string]int64)
	s.metrics.Snapshot(counters, maxValues)

	done(&ServerInfo{
		Methods:   methods,
		StartTime: s.startTime,
		Counters:  counters,
		MaxValues: maxValues,
	}, nil)
}

type cancelParams struct {
	ID json.RawMessage `json:"id"`
}

// handleRPCCancel implements the rpc.cancel builtin. Cancellation is by
// request id, scoped to this server's currently in-flight requests.
func (s *Server) handleRPCCancel(_ context.Context, req *Request, done Done) {
	var p cancelParams
	if err := req.UnmarshalParams(&p); err != nil {
		done(nil, err)
		return
	}
	s.mu.Lock()
	cancel, ok := s.cancels[string(p.ID)]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	done(nil, nil)
}
