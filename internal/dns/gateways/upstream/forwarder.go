// Package upstream relays raw DNS queries to the configured upstream
// resolver over UDP. Each forwarded query gets its own connection, created
// and torn down within the call, so no socket state is shared across queries.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"dnsproxy/internal/dns/gateways/wire"
	"dnsproxy/internal/dns/services/proxy"
)

// Error message constants for consistent error handling
const (
	errNoServerProvided = "no upstream server address provided"
	errConnectFailed    = "failed to connect to upstream: %w"
	errWriteFailed      = "failed to send query upstream: %w"
	errReadFailed       = "failed to read upstream reply: %w"
)

// DialFunc establishes a network connection. It exists so tests can inject
// in-memory transports; the default is net.Dialer's DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Forwarder relays single queries to one upstream resolver.
type Forwarder struct {
	addr    string        // Upstream resolver address in ip:port form
	timeout time.Duration // Maximum wait for one reply
	dial    DialFunc
}

// Options configures a Forwarder. Server is required; Timeout defaults to
// 5 seconds; Dial is injectable for tests.
type Options struct {
	Server  string
	Timeout time.Duration
	Dial    DialFunc
}

// NewForwarder creates a Forwarder for the given upstream server.
func NewForwarder(opts Options) (*Forwarder, error) {
	if opts.Server == "" {
		return nil, errors.New(errNoServerProvided)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Dial == nil {
		opts.Dial = (&net.Dialer{}).DialContext
	}
	return &Forwarder{
		addr:    opts.Server,
		timeout: opts.Timeout,
		dial:    opts.Dial,
	}, nil
}

// Forward sends query in one datagram to the upstream resolver and waits for
// exactly one reply datagram. The connected UDP socket only accepts the
// upstream peer's reply. The connection is closed on every exit path.
func (f *Forwarder) Forward(ctx context.Context, query []byte) ([]byte, error) {
	ctx, cancel := f.ensureContextDeadline(ctx)
	if cancel != nil {
		defer cancel()
	}

	conn, err := f.dial(ctx, "udp", f.addr)
	if err != nil {
		return nil, fmt.Errorf(errConnectFailed, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	type result struct {
		reply []byte
		err   error
	}
	resultChan := make(chan result, 1)

	go func() {
		if _, err := conn.Write(query); err != nil {
			resultChan <- result{err: f.classify(errWriteFailed, err)}
			return
		}

		// EDNS0 replies can exceed the classic 512-byte limit.
		buf := make([]byte, wire.MaxMessageSize)
		n, err := conn.Read(buf)
		if err != nil {
			resultChan <- result{err: f.classify(errReadFailed, err)}
			return
		}
		resultChan <- result{reply: buf[:n]}
	}()

	select {
	case res := <-resultChan:
		return res.reply, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %v", proxy.ErrUpstreamTimeout, f.timeout)
		}
		return nil, ctx.Err()
	}
}

// ensureContextDeadline applies the forwarder's timeout when the caller did
// not set a deadline of its own.
func (f *Forwarder) ensureContextDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); !ok {
		return context.WithTimeout(ctx, f.timeout)
	}
	return ctx, nil
}

// classify wraps transport errors, folding socket deadline expiry into
// proxy.ErrUpstreamTimeout so callers see one timeout condition regardless
// of whether the context or the socket fired first.
func (f *Forwarder) classify(format string, err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w after %v", proxy.ErrUpstreamTimeout, f.timeout)
	}
	return fmt.Errorf(format, err)
}

var _ proxy.Forwarder = (*Forwarder)(nil)
