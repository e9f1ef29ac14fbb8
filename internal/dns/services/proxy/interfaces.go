package proxy

import (
	"context"
	"errors"
	"net"
)

// ErrUpstreamTimeout marks a forward attempt that produced no reply within
// the configured window. Forwarder implementations wrap it so handlers can
// log timeouts distinctly from other transport failures.
var ErrUpstreamTimeout = errors.New("upstream query timed out")

// Forwarder relays one raw query to the upstream resolver and returns the
// raw reply. Timeouts satisfy errors.Is(err, ErrUpstreamTimeout).
type Forwarder interface {
	Forward(ctx context.Context, query []byte) ([]byte, error)
}

// ReplySender is the listener's shared send path back to clients. It must be
// safe for concurrent use by many in-flight handlers.
type ReplySender interface {
	SendTo(data []byte, addr net.Addr) error
}

// DatagramHandler processes one inbound datagram. The transport dispatches
// each datagram in its own goroutine, so implementations see concurrent
// invocations and must not share mutable state across them.
type DatagramHandler interface {
	HandleDatagram(ctx context.Context, data []byte, clientAddr net.Addr, replies ReplySender)
}

// ReplyObserver is notified after a reply containing at least one A record
// has been delivered to the client. Observers run isolated: a slow or
// panicking observer never affects reply delivery or other observers.
type ReplyObserver interface {
	Notify(name string, addresses []string)
}

// ObserverFunc adapts a plain function to the ReplyObserver interface.
type ObserverFunc func(name string, addresses []string)

func (f ObserverFunc) Notify(name string, addresses []string) {
	f(name, addresses)
}
