// Package wire decodes DNS messages for observability. The proxy relays
// query and reply bytes verbatim, so the codec never re-encodes traffic;
// it only derives read-only views of payloads that are already in flight.
package wire

import "dnsproxy/internal/dns/domain"

// MaxMessageSize is the largest UDP payload the proxy handles, sized for
// EDNS0 responses rather than the classic 512-byte limit. Both the listener
// and the upstream forwarder read into buffers of this size.
const MaxMessageSize = 4096

// Codec turns raw DNS payloads into domain views. A decode error on a query
// aborts handling; a decode error on a reply is non-fatal because the reply
// has already been delivered.
type Codec interface {
	DecodeQuery(data []byte) (domain.Question, error)
	DecodeResponse(data []byte) (domain.Response, error)
}
