// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package jrpcpeer

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"time"
)

// A Logger records text logs from a Client, Server, or Peer. A nil Logger
// discards its input.
type Logger func(text string)

// Printf writes a formatted message to the logger. If lg == nil, the message
// is discarded.
func (lg Logger) Printf(msg string, args ...any) {
	if lg != nil {
		lg(fmt.Sprintf(msg, args...))
	}
}

// StdLogger adapts a *log.Logger to a Logger. If logger == nil, the returned
// function writes to the default package logger.
func StdLogger(logger *log.Logger) Logger {
	if logger == nil {
		return func(text string) { log.Output(2, text) }
	}
	return func(text string) { logger.Output(2, text) }
}

// An RPCLogger receives callbacks describing requests as they are received
// and responses as they are produced. Calls are synchronous with request
// processing.
type RPCLogger interface {
	LogRequest(ctx context.Context, req *Request)
	LogResponse(ctx context.Context, id string, errv *Error)
}

type nullRPCLogger struct{}

func (nullRPCLogger) LogRequest(context.Context, *Request)        {}
func (nullRPCLogger) LogResponse(context.Context, string, *Error) {}

// ClientOptions control the behaviour of a Client created by NewClient. A
// nil *ClientOptions provides sensible defaults. It is safe to share client
// options among multiple Client instances.
type ClientOptions struct {
	// If not nil, send debug text logs here.
	Logger Logger

	// The number of in-flight requests the registry will hold at once.
	// A value less than 1 means no limit.
	MaxRequests int

	// DefaultTimeout is used by Send when the caller passes a zero timeout.
	// If this is also zero, the entry's expiry timer fires immediately.
	DefaultTimeout time.Duration
}

func (o *ClientOptions) logFunc() func(string, ...any) {
	if o == nil || o.Logger == nil {
		return func(string, ...any) {}
	}
	return o.Logger.Printf
}

func (o *ClientOptions) maxRequests() int {
	if o == nil || o.MaxRequests < 1 {
		return 0
	}
	return o.MaxRequests
}

func (o *ClientOptions) defaultTimeout() time.Duration {
	if o == nil {
		return 0
	}
	return o.DefaultTimeout
}

// ServerOptions control the behaviour of a Server created by NewServer. A
// nil *ServerOptions provides sensible defaults.
type ServerOptions struct {
	// If not nil, send debug text logs here.
	Logger Logger

	// If not nil, the methods of this value are called to log each request
	// received and each response produced.
	RPCLog RPCLogger

	// The number of concurrently in-flight handler invocations the
	// dispatcher will admit. A value less than 1 means no limit.
	MaxRequests int

	// Parallel selects the batch-processing strategy: when true, a batch's
	// sub-requests are launched one after another without waiting for
	// earlier ones to complete, so asynchronous handlers overlap and the
	// responses come back in completion order; when false (the default)
	// they run one at a time, in order.
	Parallel bool

	// Builtins enables the opt-in rpc.* introspection and cancellation
	// methods. Off by default so a bare Server exposes only the methods the
	// embedder registers.
	Builtins bool

	// Allows up to the specified number of goroutines to execute handlers
	// concurrently. A value less than 1 uses runtime.NumCPU().
	Concurrency int
}

func (o *ServerOptions) logFunc() func(string, ...any) {
	if o == nil || o.Logger == nil {
		return func(string, ...any) {}
	}
	return o.Logger.Printf
}

func (o *ServerOptions) rpcLog() RPCLogger {
	if o == nil || o.RPCLog == nil {
		return nullRPCLogger{}
	}
	return o.RPCLog
}

func (o *ServerOptions) maxRequests() int {
	if o == nil || o.MaxRequests < 1 {
		return 0
	}
	return o.MaxRequests
}

func (o *ServerOptions) parallel() bool { return o != nil && o.Parallel }

func (o *ServerOptions) builtins() bool { return o != nil && o.Builtins }

func (o *ServerOptions) concurrency() int64 {
	if o == nil || o.Concurrency < 1 {
		return int64(runtime.NumCPU())
	}
	return int64(o.Concurrency)
}

// PeerOptions control the behaviour of a Peer created by NewPeer.
type PeerOptions struct {
	// If not nil, send debug text logs here.
	Logger Logger

	// Reject inbound payloads larger than MaxInputLen bytes with a -32000
	// error envelope. Zero means no limit.
	MaxInputLen int

	// OnError, if set, is invoked when the peer cannot deliver an outbound
	// response it would otherwise have produced (the sink rejected it).
	OnError func(code int)

	// AllowPush enables Peer.Push, which lets the server side originate a
	// request of its own (a server-to-client push) through the peer's
	// embedded client. Off by default so a bare Peer only ever originates
	// requests through the caller's own Client.
	AllowPush bool
}

func (o *PeerOptions) allowPush() bool { return o != nil && o.AllowPush }

func (o *PeerOptions) logFunc() func(string, ...any) {
	if o == nil || o.Logger == nil {
		return func(string, ...any) {}
	}
	return o.Logger.Printf
}

func (o *PeerOptions) maxInputLen() int {
	if o == nil {
		return 0
	}
	return o.MaxInputLen
}

func (o *PeerOptions) onError() func(int) {
	if o == nil || o.OnError == nil {
		return func(int) {}
	}
	return o.OnError
}
