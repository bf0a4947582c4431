package channel

import (
	"encoding/json"
	"io"
)

// JSON builds a framing with no explicit delimiter at all: it relies on the
// fact that a JSON-RPC envelope is itself a syntactically self-delimiting
// JSON value, so a streaming decoder can recover message boundaries from
// the wire bytes alone. Fitting for a transport (WebSocket text frame,
// already-framed IPC socket) that hands over exactly one envelope at a time
// and needs no additional length or terminator framing.
func JSON(r io.Reader, wc io.WriteCloser) Channel {
	return jsonc{wc: wc, dec: json.NewDecoder(r)}
}

// jsonc implements Channel by decoding successive JSON values from the
// stream; Send writes bytes through unmodified.
type jsonc struct {
	wc  io.WriteCloser
	dec *json.Decoder
}

func (c jsonc) Send(msg []byte) error { _, err := c.wc.Write(msg); return err }

func (c jsonc) Recv() ([]byte, error) {
	var msg json.RawMessage
	err := c.dec.Decode(&msg)
	return msg, err
}

func (c jsonc) Close() error { return c.wc.Close() }
