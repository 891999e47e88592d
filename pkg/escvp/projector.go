package escvp

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	readBufferSize = 128
	timeout        = 5 * time.Second
)

// Projector represents an Epson projector reachable over ESC/VP.net
type Projector struct {
	host      string
	port      int
	transport string
	timeout   time.Duration
	dialer    net.Dialer

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	closed bool
}

type Option func(*Projector)

// WithPort overrides the control port, mostly useful for tests
func WithPort(port int) Option {
	return func(p *Projector) {
		p.port = port
	}
}

// WithTimeout sets the per exchange deadline used when the context has none
func WithTimeout(d time.Duration) Option {
	return func(p *Projector) {
		p.timeout = d
	}
}

// Open prepares a session to the projector at host. No connection is made until
// the first command is sent.
func Open(host string, opts ...Option) (*Projector, error) {
	host = strings.TrimSpace(host)
	if host == "" || strings.ContainsAny(host, " \t\r\n/") {
		return nil, errors.Wrapf(ErrInvalidHost, "%q", host)
	}

	p := &Projector{
		host:      host,
		port:      DefaultPort,
		transport: TransportTCP,
		timeout:   timeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Projector) Host() string {
	return p.host
}

func (p *Projector) Transport() string {
	return p.transport
}

func (p *Projector) addr() string {
	return net.JoinHostPort(p.host, strconv.Itoa(p.port))
}

// Close drops the connection. Subsequent commands fail with ErrClosed.
func (p *Projector) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	return p.disconnect()
}

func (p *Projector) disconnect() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	p.reader = nil
	return err
}

func (p *Projector) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(p.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		return dl
	}
	return d
}

// connect dials and performs the handshake. Callers hold p.mu.
func (p *Projector) connect(ctx context.Context) error {
	if p.conn != nil {
		return nil
	}

	dialCtx, cancel := context.WithDeadline(ctx, p.deadline(ctx))
	defer cancel()

	conn, err := p.dialer.DialContext(dialCtx, p.transport, p.addr())
	if err != nil {
		return errors.Wrap(err, "dialing projector")
	}

	conn.SetDeadline(p.deadline(ctx))

	_, err = conn.Write(marshalHeader(connectHeader()))
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "sending handshake")
	}

	reader := bufio.NewReaderSize(conn, readBufferSize)
	buffer := make([]byte, headerSize)
	_, err = io.ReadFull(reader, buffer)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "reading handshake")
	}

	h, err := UnmarshalHeader(buffer)
	if err != nil {
		conn.Close()
		return err
	}

	if err := checkHandshake(h); err != nil {
		conn.Close()
		return err
	}

	// Trailing headers (password, projector name) are not used.
	_, err = io.CopyN(io.Discard, reader, int64(h.HeaderCount)*extraHeaderSize)
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "reading handshake headers")
	}

	p.conn = conn
	p.reader = reader
	return nil
}

// rpc sends one command line and returns the raw reply up to and including ':'
func (p *Projector) rpc(ctx context.Context, request []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", ErrClosed
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := p.connect(ctx); err != nil {
		return "", err
	}

	p.conn.SetDeadline(p.deadline(ctx))

	_, err := p.conn.Write(request)
	if err != nil {
		p.disconnect()
		return "", errors.Wrap(err, "writing command")
	}

	reply, err := p.reader.ReadString(replyTerminator)
	if err != nil {
		p.disconnect()
		return "", errors.Wrap(err, "reading reply")
	}

	return reply, nil
}
