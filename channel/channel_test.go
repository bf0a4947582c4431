package channel_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/tinymesh/jrpcpeer/channel"
)

// testSendRecv sends msg on s and checks that r receives it back verbatim.
// Send and Recv run concurrently since several framings (Direct, and any
// Pipe built on an io.Pipe) block until both ends are ready.
func testSendRecv(t *testing.T, s, r channel.Channel, msg string) {
	t.Helper()

	var wg sync.WaitGroup
	wg.Add(2)

	var sendErr error
	go func() {
		defer wg.Done()
		sendErr = s.Send([]byte(msg))
	}()

	var got []byte
	var recvErr error
	go func() {
		defer wg.Done()
		got, recvErr = r.Recv()
	}()

	wg.Wait()
	if sendErr != nil {
		t.Errorf("Send(%q): unexpected error: %v", msg, sendErr)
	}
	if recvErr != nil {
		t.Errorf("Recv() after Send(%q): unexpected error: %v", msg, recvErr)
	}
	if string(got) != msg {
		t.Errorf("Recv() = %q, want %q", got, msg)
	}
}

func TestDirect(t *testing.T) {
	client, server := channel.Direct()
	testSendRecv(t, client, server, `{"jsonrpc":"2.0","id":1,"method":"Test"}`)
	testSendRecv(t, server, client, `{"jsonrpc":"2.0","id":1,"result":true}`)

	if err := client.Close(); err != nil {
		t.Errorf("client.Close: unexpected error: %v", err)
	}
	if _, err := server.Recv(); err != io.EOF {
		t.Errorf("server.Recv() after client closed = %v, want io.EOF", err)
	}
}

func TestDirectSendAfterClose(t *testing.T) {
	client, _ := channel.Direct()
	if err := client.Close(); err != nil {
		t.Fatalf("client.Close: unexpected error: %v", err)
	}
	if err := client.Send([]byte("x")); err == nil {
		t.Error("Send on a closed direct channel: got nil error, want one")
	}
}

// message1 and message2 stand in for a request and a matching response.
const (
	message1 = `{"jsonrpc":"2.0","id":1,"method":"Test.Add","params":[1,2,3]}`
	message2 = `{"jsonrpc":"2.0","id":1,"result":6}`
)

func TestPipeFramings(t *testing.T) {
	tests := []struct {
		name    string
		framing channel.Framing
	}{
		{"Line", channel.Line},
		{"Decimal", channel.Decimal},
		{"Varint", channel.Varint},
		{"Header", channel.Header("application/json")},
		{"JSON", channel.JSON},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client, server := channel.Pipe(test.framing)
			testSendRecv(t, client, server, message1)
			testSendRecv(t, server, client, message2)
		})
	}
}

func TestEmptyMessage(t *testing.T) {
	tests := []struct {
		name    string
		framing channel.Framing
	}{
		{"Line", channel.Line},
		{"Decimal", channel.Decimal},
		{"Varint", channel.Varint},
		{"Header", channel.Header("application/json")},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client, server := channel.Pipe(test.framing)
			testSendRecv(t, client, server, "")
		})
	}
}

func TestLineRejectsEmbeddedLF(t *testing.T) {
	client, _ := channel.Pipe(channel.Line)
	if err := client.Send([]byte("a\nb")); err == nil {
		t.Error("Send with an embedded LF: got nil error, want one")
	}
}

// rwPipe adapts a pair of io.Pipe halves into a single io.ReadWriteCloser,
// the shape NewRaw expects, so it can be exercised the same way as the
// other framings even though it is not built through Pipe/Framing.
type rwPipe struct {
	io.Reader
	io.Writer
	io.Closer
}

func TestRawRoundTrip(t *testing.T) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	a := channel.NewRaw(rwPipe{Reader: ar, Writer: aw, Closer: aw})
	b := channel.NewRaw(rwPipe{Reader: br, Writer: bw, Closer: bw})

	testSendRecv(t, a, b, message1)
	testSendRecv(t, b, a, message2)
}

func TestRawBackToBackValues(t *testing.T) {
	// NewRaw relies on JSON's own grammar to find record boundaries, so two
	// values written back to back with no separator at all must still come
	// back as two separate Recv calls.
	r, w := io.Pipe()
	recvSide := channel.NewRaw(rwPipe{Reader: r, Writer: w, Closer: w})

	go func() {
		io.WriteString(w, message1)
		io.WriteString(w, message2)
	}()

	first, err := recvSide.Recv()
	if err != nil {
		t.Fatalf("first Recv: unexpected error: %v", err)
	}
	if string(first) != message1 {
		t.Errorf("first Recv = %q, want %q", first, message1)
	}
	second, err := recvSide.Recv()
	if err != nil {
		t.Fatalf("second Recv: unexpected error: %v", err)
	}
	if string(second) != message2 {
		t.Errorf("second Recv = %q, want %q", second, message2)
	}
}

// headerChannel wires Header's framing directly onto a strings.Reader so a
// test can inject malformed header text without going through Send.
func headerChannel(body string) channel.Channel {
	return channel.Header("application/json")(strings.NewReader(body), nopWriteCloser{})
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

func TestHeaderMalformedFrames(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "invalid header line",
			body: "not a header line\r\n\r\n",
			want: "invalid header line",
		},
		{
			name: "wrong content-type",
			body: "Content-Type: text/plain\r\nContent-Length: 2\r\n\r\nhi",
			want: "unexpected content-type",
		},
		{
			name: "missing content-length",
			body: "Content-Type: application/json\r\n\r\n",
			want: "missing content-length",
		},
		{
			name: "invalid content-length",
			body: "Content-Type: application/json\r\nContent-Length: abc\r\n\r\n",
			want: "invalid content-length",
		},
		{
			name: "negative content-length",
			body: "Content-Type: application/json\r\nContent-Length: -1\r\n\r\n",
			want: "negative content-length",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := headerChannel(test.body)
			_, err := c.Recv()
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("Recv() error = %v, want one containing %q", err, test.want)
			}
		})
	}
}

func TestHeaderTruncatedBody(t *testing.T) {
	// A well-formed header promising more bytes than the body actually has.
	c := headerChannel("Content-Type: application/json\r\nContent-Length: 10\r\n\r\nshort")
	if _, err := c.Recv(); err == nil {
		t.Error("Recv() on a truncated body: got nil error, want one")
	}
}

func decimalChannel(body string) channel.Channel {
	return channel.Decimal(strings.NewReader(body), nopWriteCloser{})
}

func TestDecimalMalformedLengthPrefix(t *testing.T) {
	c := decimalChannel("not-a-number\nbody")
	if _, err := c.Recv(); err == nil {
		t.Error("Recv() with a non-numeric length prefix: got nil error, want one")
	}
}

func TestDecimalTruncatedBody(t *testing.T) {
	c := decimalChannel("10\nshort")
	if _, err := c.Recv(); err == nil {
		t.Error("Recv() on a truncated body: got nil error, want one")
	}
}

func varintChannel(body []byte) channel.Channel {
	return channel.Varint(bytes.NewReader(body), nopWriteCloser{})
}

func TestVarintTruncatedBody(t *testing.T) {
	// A length prefix of 10 but only 3 bytes of payload follow.
	c := varintChannel([]byte{10, 'a', 'b', 'c'})
	if _, err := c.Recv(); err == nil {
		t.Error("Recv() on a truncated body: got nil error, want one")
	}
}

func TestVarintMissingLengthPrefix(t *testing.T) {
	c := varintChannel(nil)
	if _, err := c.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("Recv() on an empty stream = %v, want io.EOF", err)
	}
}
