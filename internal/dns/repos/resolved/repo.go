package resolved

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"dnsproxy/internal/dns/common/clock"
	"dnsproxy/internal/dns/common/log"
	"dnsproxy/internal/dns/services/proxy"
)

// Bloom sizing for the first-sighting filter. A resolver-facing proxy sees a
// long tail of distinct names; 100k at 1% keeps the filter under 128 KiB.
const (
	seenCapacity = 100_000
	seenFPRate   = 0.01
)

// Repository records resolutions as they are observed. Writes flow
// recent-LRU -> seen-bloom -> store: the LRU suppresses rewrites of
// unchanged address sets, the Bloom filter flags names never stored before,
// and the store keeps the latest observation per name.
type Repository struct {
	store  Store
	recent *lru.Cache[string, string]
	seen   SeenFilter
	clock  clock.Clock
	logger log.Logger
}

// RepositoryOptions configures a Repository. Store is required. RecentSize
// <= 0 disables duplicate suppression entirely.
type RepositoryOptions struct {
	Store      Store
	RecentSize int
	Clock      clock.Clock
	Logger     log.Logger
}

// NewRepository constructs a Repository over the given store.
func NewRepository(opts RepositoryOptions) (*Repository, error) {
	r := &Repository{
		store:  opts.Store,
		seen:   NewSeenFilter(seenCapacity, seenFPRate),
		clock:  opts.Clock,
		logger: opts.Logger,
	}
	if r.clock == nil {
		r.clock = clock.RealClock{}
	}
	if r.logger == nil {
		r.logger = log.NewNoopLogger()
	}
	if opts.RecentSize > 0 {
		cache, err := lru.New[string, string](opts.RecentSize)
		if err != nil {
			return nil, err
		}
		r.recent = cache
	}
	return r, nil
}

// Notify implements proxy.ReplyObserver. Store failures are logged and
// swallowed: observer errors must never surface into query handling.
func (r *Repository) Notify(name string, addresses []string) {
	set := strings.Join(addresses, ",")
	if r.recent != nil {
		if prev, ok := r.recent.Get(name); ok && prev == set {
			r.logger.Debug(map[string]any{
				"name": name,
			}, "Skipping unchanged resolution")
			return
		}
	}

	first := !r.seen.MightContain([]byte(name))

	err := r.store.Put(Entry{
		Name:         name,
		Addresses:    addresses,
		ObservedUnix: r.clock.Now().Unix(),
	})
	if err != nil {
		r.logger.Error(map[string]any{
			"name":  name,
			"error": err.Error(),
		}, "Failed to persist resolution")
		return
	}

	if r.recent != nil {
		r.recent.Add(name, set)
	}
	r.seen.Add([]byte(name))

	if first {
		r.logger.Info(map[string]any{
			"name":      name,
			"addresses": addresses,
		}, "First resolution observed for name")
	} else {
		r.logger.Debug(map[string]any{
			"name":      name,
			"addresses": addresses,
		}, "Resolution recorded")
	}
}

// Close releases the underlying store.
func (r *Repository) Close() error {
	return r.store.Close()
}

var _ proxy.ReplyObserver = (*Repository)(nil)
