// Package transport owns the local UDP endpoint: binding, the accept loop,
// per-datagram handler dispatch, and the shared send path handlers use to
// deliver replies. Payload interpretation is left entirely to the service
// layer; the transport moves raw bytes.
package transport

import (
	"context"
	"fmt"

	"dnsproxy/internal/dns/common/log"
	"dnsproxy/internal/dns/services/proxy"
)

// ServerTransport is the lifecycle contract for listener implementations.
type ServerTransport interface {
	// Start binds the endpoint and begins dispatching datagrams to handler.
	Start(ctx context.Context, handler proxy.DatagramHandler) error

	// Stop releases the endpoint. In-flight handlers are abandoned to their
	// own timeout bound rather than interrupted.
	Stop() error

	// Address returns the local address the transport is bound to.
	Address() string
}

// TransportType names the supported listener protocols.
type TransportType string

const (
	// TransportUDP is standard DNS over UDP (RFC 1035).
	TransportUDP TransportType = "udp"
)

// NewTransport builds a listener for the requested protocol.
func NewTransport(transportType TransportType, addr string, logger log.Logger) (ServerTransport, error) {
	switch transportType {
	case TransportUDP:
		return NewUDPListener(addr, logger), nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", transportType)
	}
}
