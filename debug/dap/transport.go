// Package dap implements the client side of the Debug Adapter Protocol:
// Content-Length framed JSON messages over a socket or subprocess pipes,
// with request/response correlation and asynchronous event delivery.
package dap

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Transport moves framed DAP messages to and from a debug adapter.
type Transport interface {
	// Send writes one framed message.
	Send(msg *Message) error

	// Receive blocks until the next complete message is available.
	Receive() (*Message, error)

	// Close closes the transport.
	Close() error
}

// Message is one framed protocol message.
type Message struct {
	// Content is the JSON body.
	Content json.RawMessage
}

// MaxContentLength bounds the accepted frame body size (10MB).
const MaxContentLength = 10 * 1024 * 1024

// WriteFrame writes one Content-Length framed message to w.
func WriteFrame(w io.Writer, msg *Message) error {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(msg.Content))
	if _, err := io.WriteString(w, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(msg.Content); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// ReadFrame reads one framed message from r. The reader accumulates
// arbitrary chunking: partial frames block until complete, and several
// concatenated frames are returned by successive calls.
func ReadFrame(r *bufio.Reader) (*Message, error) {
	contentLength := -1

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header line: %q", line)
		}
		if strings.EqualFold(strings.TrimSpace(name), "content-length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("invalid content-length: %w", err)
			}
			if n < 0 || n > MaxContentLength {
				return nil, fmt.Errorf("content-length %d out of range", n)
			}
			contentLength = n
		}
	}

	if contentLength < 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Message{Content: body}, nil
}

// SocketTransport frames messages over a TCP connection to an adapter
// listening on a socket.
type SocketTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

// Dial connects to a debug adapter at address with bounded retries and a
// fixed backoff between attempts. The adapter process typically needs a
// moment to start listening after it is spawned.
func Dial(ctx context.Context, address string, retries int, backoff time.Duration) (*SocketTransport, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", address)
		if err == nil {
			return NewSocketTransport(conn), nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("dial %s after %d attempts: %w", address, retries+1, lastErr)
}

// NewSocketTransport wraps an established connection.
func NewSocketTransport(conn net.Conn) *SocketTransport {
	return &SocketTransport{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// Send writes one framed message.
func (t *SocketTransport) Send(msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return WriteFrame(t.conn, msg)
}

// Receive reads the next framed message.
func (t *SocketTransport) Receive() (*Message, error) {
	return ReadFrame(t.reader)
}

// Close closes the connection.
func (t *SocketTransport) Close() error {
	return t.conn.Close()
}

// PipeTransport frames messages over a subprocess's stdin/stdout.
type PipeTransport struct {
	in     io.WriteCloser
	out    io.ReadCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewPipeTransport wraps a stdin writer and stdout reader.
func NewPipeTransport(in io.WriteCloser, out io.ReadCloser) *PipeTransport {
	return &PipeTransport{
		in:     in,
		out:    out,
		reader: bufio.NewReader(out),
	}
}

// Send writes one framed message to the process's stdin.
func (t *PipeTransport) Send(msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return WriteFrame(t.in, msg)
}

// Receive reads the next framed message from the process's stdout.
func (t *PipeTransport) Receive() (*Message, error) {
	return ReadFrame(t.reader)
}

// Close closes both pipes.
func (t *PipeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	errIn := t.in.Close()
	errOut := t.out.Close()
	if errIn != nil {
		return errIn
	}
	return errOut
}

// RawTransport frames messages over any ReadWriteCloser. Useful for
// in-memory pipes in tests.
type RawTransport struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewRawTransport wraps rwc.
func NewRawTransport(rwc io.ReadWriteCloser) *RawTransport {
	return &RawTransport{
		rwc:    rwc,
		reader: bufio.NewReader(rwc),
	}
}

// Send writes one framed message.
func (t *RawTransport) Send(msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return WriteFrame(t.rwc, msg)
}

// Receive reads the next framed message.
func (t *RawTransport) Receive() (*Message, error) {
	return ReadFrame(t.reader)
}

// Close closes the underlying stream.
func (t *RawTransport) Close() error {
	return t.rwc.Close()
}
