/*
Package jrpcpeer implements a JSON-RPC 2.0 peer for embedded and other
constrained, single-threaded-cooperative environments where the transport
(WebSocket, serial, IPC) is supplied externally. A peer is simultaneously a
client -- it originates requests and matches incoming responses to them --
and a server -- it receives requests and dispatches them to handlers.

Unlike a conventional blocking RPC stack, every operation here is
non-blocking: long-running work is represented by a completion callback
fulfilled later, from whatever execution context happens to produce the
result. This matches the cooperative-scheduling model a constrained,
single-threaded target demands, where there are no threads, only a single
event loop delivering inbound bytes, timer expirations, and handler
completions.

Servers

The *Server type dispatches inbound requests to handlers. A Handler
receives a *Request and a Done callback; it reports its outcome by calling
Done exactly once, synchronously or from another goroutine:

	add := jrpcpeer.HandlerFunc(func(ctx context.Context, req *jrpcpeer.Request, done jrpcpeer.Done) {
		var args []int
		if err := req.UnmarshalParams(&args); err != nil {
			done(nil, err)
			return
		}
		sum := 0
		for _, v := range args {
			sum += v
		}
		done(sum, nil)
	})

	srv := jrpcpeer.NewServer(nil) // nil for default options
	srv.Handle("Math.Add", add)

For plain synchronous Go functions, the handler package adapts them without
requiring the Done-based signature directly:

	srv.Handle("Math.Add", handler.New(func(ctx context.Context, values []int) (int, error) {
		sum := 0
		for _, v := range values {
			sum += v
		}
		return sum, nil
	}))

A Server does not own a transport; its Call method takes one already-framed
JSON payload and invokes a DispatchDone with the serialized response bytes
(or nil, for a notification). Wiring a byte stream to Call, and Call's
output to a sink, is the job of a Peer.

Clients

The *Client type tracks outbound requests and matches them to inbound
responses by numeric id. Send is non-blocking and never returns an error
directly; every failure mode -- a full registry, a rejected send, a
response, or a timeout -- is reported by fulfilling the supplied Completion
exactly once:

	cli := jrpcpeer.NewClient(output, nil)
	cli.Send(5*time.Second, "Math.Add", params, func(res *jrpcpeer.CallResult) {
		switch res.Status {
		case jrpcpeer.StatusOK:
			// res.Result holds the raw JSON result.
		case jrpcpeer.StatusTimeout:
			// no response arrived before the deadline.
		default:
			// res.Err describes what went wrong.
		}
	})

Once a response is delivered or the timer fires, whichever happens first
wins; the entry can never be fulfilled twice.

Notifications have no response to await, so Notify completes synchronously:

	cli.Notify("Alert", params)

Peers

A *Peer composes a Client and a Server behind one sink, and demultiplexes
an inbound byte stream: each payload is checked for well-formed JSON and
classified as a response (routed to the Client) or a request (routed to the
Server). The payload is decoded again at each of these steps, not once.
See the channel package for generic transport framings that can supply
Peer.Read with discrete byte-stream records.
*/
package jrpcpeer
