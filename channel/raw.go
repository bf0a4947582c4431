package channel

import (
	"encoding/json"
	"io"
)

// NewRaw constructs a Channel that sends messages on rwc with no framing of
// its own at all, relying entirely on JSON's self-delimiting grammar to mark
// where one envelope ends and the next begins. This differs from JSON (see
// json.go) only in that it shares a single io.ReadWriteCloser for both
// directions, which fits a single bidirectional socket or pipe better than
// the separate reader/writer shape the other framings take.
func NewRaw(rwc io.ReadWriteCloser) Channel { return raw{rwc: rwc, dec: json.NewDecoder(rwc)} }

// raw implements Channel with no framing beyond JSON syntax itself.
type raw struct {
	rwc io.ReadWriteCloser
	dec *json.Decoder
}

func (r raw) Send(msg []byte) error { _, err := r.rwc.Write(msg); return err }

func (r raw) Recv() ([]byte, error) {
	var msg json.RawMessage
	err := r.dec.Decode(&msg)
	return msg, err
}

func (r raw) Close() error { return r.rwc.Close() }
