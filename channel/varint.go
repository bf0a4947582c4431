package channel

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
)

// Varint builds a framing suited to a constrained serial or radio link where
// every byte of overhead matters: each message is prefixed by its length as
// a binary.Uvarint, rather than the ASCII decimal digits Decimal spends a
// full byte per digit on.
func Varint(r io.Reader, wc io.WriteCloser) Channel {
	return &varint{wc: wc, rd: bufio.NewReader(r), buf: bytes.NewBuffer(nil)}
}

// varint implements Channel with a varint-length-prefix framing.
type varint struct {
	wc  io.WriteCloser
	rd  *bufio.Reader
	buf *bytes.Buffer
}

func (c *varint) Send(msg []byte) error {
	var ln [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(ln[:], uint64(len(msg)))
	c.buf.Reset()
	c.buf.Write(ln[:n])
	c.buf.Write(msg)
	_, err := c.wc.Write(c.buf.Next(c.buf.Len()))
	return err
}

func (c *varint) Recv() ([]byte, error) {
	ln, err := binary.ReadUvarint(c.rd)
	if err != nil {
		return nil, err
	}
	out := make([]byte, int(ln))
	nr, err := io.ReadFull(c.rd, out)
	return out[:nr], err
}

func (c *varint) Close() error { return c.wc.Close() }
