package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"dnsproxy/internal/dns/common/log"
	"dnsproxy/internal/dns/gateways/wire"
	"dnsproxy/internal/dns/services/proxy"
)

// UDPListener implements ServerTransport for DNS over UDP. It reads
// datagrams on one socket, dispatches each to the handler in its own
// goroutine before any parsing happens, and exposes the socket's write side
// as the shared reply path. Concurrent SendTo calls are safe: UDP writes are
// atomic per datagram.
type UDPListener struct {
	addr    string
	conn    *net.UDPConn
	logger  log.Logger
	handler proxy.DatagramHandler

	// Synchronization for graceful shutdown
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

// NewUDPListener creates an unbound listener for addr.
func NewUDPListener(addr string, logger log.Logger) *UDPListener {
	return &UDPListener{
		addr:   addr,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start binds the UDP socket and launches the accept loop.
func (l *UDPListener) Start(ctx context.Context, handler proxy.DatagramHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return fmt.Errorf("UDP listener already running")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", l.addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to bind UDP socket on %s: %w", l.addr, err)
	}

	l.conn = conn
	l.handler = handler
	l.running = true

	l.logger.Info(map[string]any{
		"transport": "udp",
		"address":   l.addr,
	}, "DNS proxy listener started")

	go l.acceptLoop(ctx)

	return nil
}

// Stop closes the socket and halts the accept loop. Safe to call twice.
func (l *UDPListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return nil
	}

	close(l.stopCh)

	var closeErr error
	if l.conn != nil {
		closeErr = l.conn.Close()
		if closeErr != nil {
			l.logger.Warn(map[string]any{
				"error": closeErr.Error(),
			}, "Error closing UDP socket")
		}
	}

	l.running = false

	l.logger.Info(map[string]any{
		"transport": "udp",
		"address":   l.addr,
	}, "DNS proxy listener stopped")

	return closeErr
}

// Address returns the address the listener was configured with.
func (l *UDPListener) Address() string {
	return l.addr
}

// SendTo delivers reply bytes to a client address. Handlers call this
// concurrently; the underlying WriteTo is safe without extra locking.
func (l *UDPListener) SendTo(data []byte, addr net.Addr) error {
	l.mu.RLock()
	conn := l.conn
	l.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("UDP listener not started")
	}
	_, err := conn.WriteTo(data, addr)
	return err
}

// acceptLoop reads datagrams until shutdown. Each datagram is copied out of
// the shared read buffer and handed to the handler in a fresh goroutine, so
// a slow query never delays acceptance of the next one.
func (l *UDPListener) acceptLoop(ctx context.Context) {
	buffer := make([]byte, wire.MaxMessageSize)

	for {
		select {
		case <-ctx.Done():
			l.logger.Debug(nil, "UDP listener stopping due to context cancellation")
			return
		case <-l.stopCh:
			l.logger.Debug(nil, "UDP listener stopping due to stop signal")
			return
		default:
			n, clientAddr, err := l.conn.ReadFromUDP(buffer)
			if err != nil {
				l.mu.RLock()
				running := l.running
				l.mu.RUnlock()

				if !running {
					return // Normal shutdown
				}

				l.logger.Warn(map[string]any{
					"error": err.Error(),
				}, "Failed to read UDP datagram")
				continue
			}

			datagram := make([]byte, n)
			copy(datagram, buffer[:n])
			go l.handler.HandleDatagram(ctx, datagram, clientAddr, l)
		}
	}
}

var _ ServerTransport = (*UDPListener)(nil)
var _ proxy.ReplySender = (*UDPListener)(nil)
