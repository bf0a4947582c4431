// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package jrpcpeer

import (
	"context"
	"encoding/json"
	"time"
)

// A Peer is simultaneously a client, originating requests and matching
// incoming responses to them, and a server, receiving requests and
// producing responses. Read demultiplexes an inbound message stream into
// "this looks like a response" versus "this looks like a request" and
// routes each accordingly. The payload is decoded more than once on the
// way: Read checks that it is well-formed JSON, ReadJSON decodes it again
// to classify it, and the Client or Server decodes it once more to handle it.
type Peer struct {
	opts   *PeerOptions
	output OutputFunc

	Client *Client
	Server *Server
}

// NewPeer constructs a Peer whose client and server share a single sink.
// Either client or server may be nil if the peer only plays one role; a nil
// Client causes Read to discard payloads that classify as responses, and a
// nil Server causes it to discard payloads that classify as requests.
func NewPeer(client *Client, server *Server, output OutputFunc, opts *PeerOptions) *Peer {
	return &Peer{opts: opts, output: output, Client: client, Server: server}
}

func (p *Peer) sinkErr(env json.RawMessage) {
	if env == nil {
		return
	}
	if err := p.output(env); err != nil {
		p.opts.onError()(int(errInternalError.Code))
	}
}

// Read implements peer.read: it enforces max_input_len, checks that bytes
// is well-formed JSON, and delegates to ReadJSON. It never produces more than one outbound
// envelope of its own (invariant 5) -- zero for a notification, or exactly
// one error envelope for a malformed payload.
func (p *Peer) Read(ctx context.Context, raw []byte) {
	if max := p.opts.maxInputLen(); max > 0 && len(raw) > max {
		p.sinkErr(p.errEnvelope(errInputTooLong))
		return
	}
	var value json.RawMessage
	if err := json.Unmarshal(raw, &value); err != nil {
		p.sinkErr(p.errEnvelope(errParseError))
		return
	}
	p.ReadJSON(ctx, value)
}

func (p *Peer) errEnvelope(e *Error) json.RawMessage {
	out, err := NewErrorResponse(NullID(), e)
	if err != nil {
		return nil
	}
	return out
}

// looksLikeResponse applies the classification rule to a single top-level
// JSON object: it is a response iff it has a "result" or "error" key.
func looksLikeResponse(raw json.RawMessage) bool {
	var probe struct {
		HasResult json.RawMessage `json:"result"`
		HasError  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.HasResult != nil || probe.HasError != nil
}

// ReadJSON implements peer.read_json. A top-level array is classified
// element by element -- each entry independently routed to the client
// registry or the server dispatcher -- rather than only by its first
// element. This departs from the documented source behavior, under which a
// batch whose first element looked like a response caused every other
// element to be silently dropped; see DESIGN.md for the rationale. The
// client side still has no notion of a "batch of responses": each response
// element is matched to its own pending entry independently, and the
// server's own batch semantics (sequential or parallel) apply only to the
// request elements taken together.
func (p *Peer) ReadJSON(ctx context.Context, value json.RawMessage) {
	switch firstByte(value) {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(value, &items); err != nil || len(items) == 0 {
			p.sinkErr(p.errEnvelope(errInvalidRequest))
			return
		}
		var requests []json.RawMessage
		for _, item := range items {
			if looksLikeResponse(item) {
				p.deliverResponse(item)
			} else {
				requests = append(requests, item)
			}
		}
		if len(requests) == 0 || p.Server == nil {
			return
		}
		batch := joinArray(requests)
		p.Server.Call(ctx, batch, func(res *DispatchResult) {
			p.sinkErr(res.Output)
		})
	default:
		if looksLikeResponse(value) {
			p.deliverResponse(value)
			return
		}
		if p.Server == nil {
			return
		}
		p.Server.Call(ctx, value, func(res *DispatchResult) {
			p.sinkErr(res.Output)
		})
	}
}

func (p *Peer) deliverResponse(raw json.RawMessage) {
	if p.Client == nil {
		return
	}
	p.Client.Deliver(raw)
}

// Push originates a server-to-client request through the peer's embedded
// client, gated by PeerOptions.AllowPush. A push is just a Client.Send
// issued by the peer against itself, reusing the client registry's
// pending-entry machinery rather than a parallel implementation -- calling
// Push when AllowPush is false or the peer has no Client fulfills done with
// StatusClientError immediately.
func (p *Peer) Push(timeout time.Duration, method string, params json.RawMessage, done Completion) {
	if !p.opts.allowPush() || p.Client == nil {
		if done == nil {
			done = noopCompletion
		}
		done(&CallResult{Status: StatusClientError, Err: Errorf(errInternalError.Code, "push is not enabled")})
		return
	}
	p.Client.Send(timeout, method, params, done)
}
