// Package resolved persists the addresses observed in forwarded replies.
// It implements the proxy's ReplyObserver contract: nothing here is ever
// consulted on the query path, so the proxy stays cache-free.
package resolved

// Entry is one observed resolution: a queried name, the ordered IPv4
// addresses it resolved to, and when the observation happened.
type Entry struct {
	Name         string
	Addresses    []string
	ObservedUnix int64 // seconds since epoch
}

// Store abstracts the persistent resolution index (Bolt backend).
type Store interface {
	Put(e Entry) error
	Get(name string) (Entry, bool, error)
	Count() (uint64, error)
	Close() error
}

// SeenFilter is the probabilistic membership view used to detect names never
// observed before without touching the store. False positives only suppress
// a "first sighting" log line; they never lose data.
type SeenFilter interface {
	Add(key []byte)
	MightContain(key []byte) bool
}
