package channel

import "io"

// A Framing turns a reader and a writer into a Channel using one particular
// wire discipline -- this is the seam an embedder fills in to connect a
// Peer to a real serial line, stdio pipe, or other byte stream that itself
// has no notion of message boundaries.
type Framing func(io.Reader, io.WriteCloser) Channel

// Pipe creates a pair of connected in-memory channels using the given
// framing discipline, useful for exercising a Framing (Line, Decimal,
// Header, JSON) end to end without a real transport. Pipe panics if
// framing == nil.
func Pipe(framing Framing) (client, server Channel) {
	cr, sw := io.Pipe()
	sr, cw := io.Pipe()
	client = framing(cr, cw)
	server = framing(sr, sw)
	return
}
