// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package jrpcpeer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tinymesh/jrpcpeer/channel"
)

func TestPeerRoutesRequestToServer(t *testing.T) {
	srv := NewServer(nil)
	srv.Handle("Math.Add", HandlerFunc(addHandler))

	var lastOut json.RawMessage
	srvOutput := OutputFunc(func(b []byte) error { lastOut = b; return nil })
	peer := NewPeer(nil, srv, srvOutput, nil)

	peer.Read(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"Math.Add","params":[1,2]}`))
	time.Sleep(10 * time.Millisecond)
	_, result, errv, ok := IsValidResponse(lastOut)
	if !ok || errv != nil || string(result) != "3" {
		t.Fatalf("output = %s, want result 3", lastOut)
	}
}

func TestPeerRoutesResponseToClient(t *testing.T) {
	lb := new(loopback)
	cli := NewClient(lb.Send, nil)
	peer := NewPeer(cli, nil, lb.Send, nil)

	done := make(chan *CallResult, 1)
	cli.Send(time.Second, "noop", nil, func(res *CallResult) { done <- res })

	req := lb.last()
	_, id, _, _ := IsValidRequest(req)
	rsp, _ := NewResult(id, json.RawMessage(`"ok"`))

	peer.Read(context.Background(), rsp)
	res := <-done
	if res.Status != StatusOK || string(res.Result) != `"ok"` {
		t.Errorf("result = %+v, want Status=OK Result=\"ok\"", res)
	}
}

func TestPeerMaxInputLen(t *testing.T) {
	var out json.RawMessage
	peer := NewPeer(nil, NewServer(nil), OutputFunc(func(b []byte) error { out = b; return nil }),
		&PeerOptions{MaxInputLen: 4})

	peer.Read(context.Background(), []byte(`{"jsonrpc":"2.0"}`))
	_, errv, ok := decodeErrorEnvelope(out)
	if !ok || errv == nil || errv.Code != -32000 {
		t.Fatalf("output = %s, want InputTooLong", out)
	}
}

func TestPeerParseError(t *testing.T) {
	var out json.RawMessage
	peer := NewPeer(nil, NewServer(nil), OutputFunc(func(b []byte) error { out = b; return nil }), nil)

	peer.Read(context.Background(), []byte(`not json`))
	_, errv, ok := decodeErrorEnvelope(out)
	if !ok || errv == nil || errv.Code != -32700 {
		t.Fatalf("output = %s, want ParseError", out)
	}
}

// TestPeerHeterogeneousBatch exercises the resolved open question: each
// array element is classified independently, not just the first.
func TestPeerHeterogeneousBatch(t *testing.T) {
	srv := NewServer(nil)
	srv.Handle("Math.Add", HandlerFunc(addHandler))

	lb := new(loopback)
	var peer *Peer
	cli := NewClient(func(b []byte) error { return lb.Send(b) }, nil)
	peer = NewPeer(cli, srv, lb.Send, nil)

	delivered := make(chan *CallResult, 1)
	cli.Send(time.Second, "side", nil, func(res *CallResult) { delivered <- res })
	pendingReq := lb.last()
	_, pendingID, _, _ := IsValidRequest(pendingReq)
	resp, _ := NewResult(pendingID, json.RawMessage(`99`))

	batch := joinArray([]json.RawMessage{
		resp,
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"Math.Add","params":[4,5]}`),
	})
	peer.ReadJSON(context.Background(), batch)

	res := <-delivered
	if res.Status != StatusOK || string(res.Result) != "99" {
		t.Errorf("embedded response not delivered: %+v", res)
	}

	time.Sleep(10 * time.Millisecond)
	last := lb.last()
	var batchOut []json.RawMessage
	if err := json.Unmarshal(last, &batchOut); err != nil || len(batchOut) != 1 {
		t.Fatalf("request element in the batch not dispatched: %s", last)
	}
	_, result, errv, ok := IsValidResponse(batchOut[0])
	if !ok || errv != nil || string(result) != "9" {
		t.Fatalf("request element in the batch not dispatched: %s", last)
	}
}

// TestPeerOverChannel wires two peers back-to-back over channel.Direct, each
// acting as both client and server to the other, as a real embedder would
// over a byte-stream transport.
func TestPeerOverChannel(t *testing.T) {
	a, b := channel.Direct()

	srvB := NewServer(nil)
	srvB.Handle("Echo", HandlerFunc(func(ctx context.Context, req *Request, done Done) {
		done(json.RawMessage(req.ParamString()), nil)
	}))
	peerB := NewPeer(nil, srvB, OutputFunc(b.Send), nil)

	cliA := NewClient(OutputFunc(a.Send), nil)
	peerA := NewPeer(cliA, nil, OutputFunc(a.Send), nil)

	go func() {
		for {
			msg, err := b.Recv()
			if err != nil {
				return
			}
			peerB.Read(context.Background(), msg)
		}
	}()
	go func() {
		for {
			msg, err := a.Recv()
			if err != nil {
				return
			}
			peerA.Read(context.Background(), msg)
		}
	}()

	done := make(chan *CallResult, 1)
	cliA.Send(time.Second, "Echo", json.RawMessage(`"hi"`), func(res *CallResult) { done <- res })

	res := <-done
	if res.Status != StatusOK || string(res.Result) != `"hi"` {
		t.Errorf("result = %+v, want Status=OK Result=\"hi\"", res)
	}
}
