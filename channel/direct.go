package channel

import (
	"errors"
	"io"
)

// direct is an in-process Channel backed by a pair of Go channels, with no
// wire framing at all -- useful for wiring two Peers together in tests or a
// single-process demo without a real transport in between.
type direct struct {
	send chan<- []byte
	recv <-chan []byte
}

func (d direct) Send(msg []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.New("channel: send on closed direct channel")
		}
	}()
	cp := make([]byte, len(msg))
	copy(cp, msg)
	d.send <- cp
	return nil
}

func (d direct) Recv() ([]byte, error) {
	msg, ok := <-d.recv
	if ok {
		return msg, nil
	}
	return nil, io.EOF
}

func (d direct) Close() error { close(d.send); return nil }

// Direct returns a pair of connected in-memory channels with no framing:
// what one side sends, the other receives verbatim. Useful for testing a
// Peer pair, or a same-process client/server split, without a socket.
func Direct() (client, server Channel) {
	c2s := make(chan []byte)
	s2c := make(chan []byte)
	client = direct{send: c2s, recv: s2c}
	server = direct{send: s2c, recv: c2s}
	return
}
