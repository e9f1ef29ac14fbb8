// Package proxy implements the per-query forwarding engine: decode the
// inbound query for observability, relay the raw bytes upstream, deliver the
// verbatim reply to the originating client, and notify reply observers with
// the resolved IPv4 addresses.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"dnsproxy/internal/dns/common/clock"
	"dnsproxy/internal/dns/common/log"
	"dnsproxy/internal/dns/gateways/wire"
)

const defaultObserverTimeout = time.Second

// Handler drives one inbound query from receipt to reply. Every invocation
// is independent; the only shared state is the listener's send path and the
// observer list, both of which tolerate concurrent use.
type Handler struct {
	codec           wire.Codec
	upstream        Forwarder
	observers       []ReplyObserver
	clock           clock.Clock
	logger          log.Logger
	observerTimeout time.Duration
}

// HandlerOptions configures a Handler. Codec and Upstream are required;
// Clock defaults to the real clock, Logger to a noop logger, and
// ObserverTimeout to one second.
type HandlerOptions struct {
	Codec           wire.Codec
	Upstream        Forwarder
	Observers       []ReplyObserver
	Clock           clock.Clock
	Logger          log.Logger
	ObserverTimeout time.Duration
}

// NewHandler creates a query handler with the given options.
func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Codec == nil {
		return nil, errors.New("DNS codec is required")
	}
	if opts.Upstream == nil {
		return nil, errors.New("upstream forwarder is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.ObserverTimeout <= 0 {
		opts.ObserverTimeout = defaultObserverTimeout
	}
	return &Handler{
		codec:           opts.Codec,
		upstream:        opts.Upstream,
		observers:       opts.Observers,
		clock:           opts.Clock,
		logger:          opts.Logger,
		observerTimeout: opts.ObserverTimeout,
	}, nil
}

// HandleDatagram processes one inbound query. Errors are terminal for this
// query only: the client that gets no reply applies its own resolver-side
// retry, and a panic here never reaches the accept loop.
func (h *Handler) HandleDatagram(ctx context.Context, data []byte, clientAddr net.Addr, replies ReplySender) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error(map[string]any{
				"client": clientAddr.String(),
				"panic":  fmt.Sprintf("%v", r),
			}, "Query handling panicked")
		}
	}()

	question, err := h.codec.DecodeQuery(data)
	if err != nil {
		h.logger.Warn(map[string]any{
			"client": clientAddr.String(),
			"size":   len(data),
			"error":  err.Error(),
		}, "Failed to decode DNS query")
		return
	}

	clientIP := hostOf(clientAddr)
	h.logger.Info(map[string]any{
		"client": clientIP,
		"name":   question.Name,
		"type":   question.Type.String(),
	}, "Received DNS query")

	start := h.clock.Now()
	reply, err := h.upstream.Forward(ctx, data)
	if err != nil {
		if errors.Is(err, ErrUpstreamTimeout) {
			h.logger.Error(map[string]any{
				"client": clientIP,
				"name":   question.Name,
				"error":  err.Error(),
			}, "No upstream reply before timeout")
		} else {
			h.logger.Error(map[string]any{
				"client": clientIP,
				"name":   question.Name,
				"error":  err.Error(),
			}, "Upstream forwarding failed")
		}
		return
	}

	// The client gets its verbatim reply before anything else happens.
	if err := replies.SendTo(reply, clientAddr); err != nil {
		h.logger.Error(map[string]any{
			"client": clientIP,
			"name":   question.Name,
			"error":  err.Error(),
		}, "Failed to send reply to client")
		return
	}
	elapsed := h.clock.Now().Sub(start)

	response, err := h.codec.DecodeResponse(reply)
	if err != nil {
		// Non-fatal: the reply already reached the client.
		h.logger.Warn(map[string]any{
			"client": clientIP,
			"name":   question.Name,
			"error":  err.Error(),
		}, "Reply delivered but could not be decoded")
		return
	}

	if addrs := response.IPv4Addresses(); len(addrs) > 0 {
		h.notifyObservers(question.Name, addrs)
	}

	h.logger.Info(map[string]any{
		"client":     clientIP,
		"name":       question.Name,
		"answers":    response.AnswerCount(),
		"rcode":      response.RCode.String(),
		"elapsed_ms": elapsed.Milliseconds(),
	}, "Answered DNS query")
}

// notifyObservers broadcasts one resolution to every attached observer,
// sequentially, each behind its own isolation boundary.
func (h *Handler) notifyObservers(name string, addrs []string) {
	for _, obs := range h.observers {
		h.notify(obs, name, addrs)
	}
}

// notify invokes a single observer in a bounded-time delegated goroutine.
// Observers are untrusted: a panic is logged and swallowed, and a hang is
// abandoned after observerTimeout so the handler always completes.
func (h *Handler) notify(obs ReplyObserver, name string, addrs []string) {
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error(map[string]any{
					"name":  name,
					"panic": fmt.Sprintf("%v", r),
				}, "Reply observer panicked")
			}
		}()
		obs.Notify(name, addrs)
	}()

	select {
	case <-done:
	case <-time.After(h.observerTimeout):
		h.logger.Warn(map[string]any{
			"name":    name,
			"timeout": h.observerTimeout.String(),
		}, "Reply observer abandoned after timeout")
	}
}

// hostOf extracts the IP portion of a client address for log lines.
func hostOf(addr net.Addr) string {
	if host, _, err := net.SplitHostPort(addr.String()); err == nil {
		return host
	}
	return addr.String()
}

var _ DatagramHandler = (*Handler)(nil)
