// Package channel supplies reference framing disciplines for the
// byte-stream-framing transports a Peer is fed over (WebSocket, serial,
// IPC). The core never imports this package itself, since the transport
// is an external collaborator, but an embedder wiring jrpcpeer onto an
// actual wire needs something that turns a byte stream into discrete
// envelope records and back.
package channel

// A Channel represents the ability to transmit and receive whole envelope
// records over some byte-stream transport. It does not interpret record
// contents; it only adds and removes framing so JSON-RPC envelopes can be
// embedded in a lower-level stream protocol. Channel.Send adapts directly
// to jrpcpeer.OutputFunc. Methods need not be safe for concurrent use.
type Channel interface {
	// Send transmits one complete record.
	Send([]byte) error

	// Recv returns the next available record, or io.EOF once the peer on
	// the other end has gone away.
	Recv() ([]byte, error)

	// Close shuts the channel down; no further Send or Recv is valid after.
	Close() error
}
