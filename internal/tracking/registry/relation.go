package registry

import (
	"errors"
	"hash/maphash"
	"sync"

	"trackhub/internal/tracking/models"
)

// errNotLive is returned by Relation.Add when the connection has left Live.
var errNotLive = errors.New("connection is not live")

// Liveness reports whether a connection may still acquire memberships.
type Liveness interface {
	IsLive(id models.ConnectionID) bool
}

type memberSet = map[models.ConnectionID]struct{}

type forwardShard[K comparable] struct {
	mu      sync.RWMutex
	members map[K]memberSet
}

type reverseShard[K comparable] struct {
	mu   sync.Mutex
	keys map[models.ConnectionID]map[K]struct{}
}

// Relation is a sharded many-to-many relation between keys and connections,
// indexed in both directions.
//
// Lock order is reverse shard, then forward shard. Add checks liveness while
// holding the reverse shard, and DropConnection takes the same lock, so a
// membership added concurrently with a disconnect is always dropped with it.
type Relation[K comparable] struct {
	forward []*forwardShard[K]
	reverse []*reverseShard[K]
	seed    maphash.Seed
	live    Liveness
}

// NewRelation creates an empty relation.
func NewRelation[K comparable](live Liveness, opts ...Option) *Relation[K] {
	cfg := newConfig(opts)
	r := &Relation[K]{
		forward: make([]*forwardShard[K], cfg.shards),
		reverse: make([]*reverseShard[K], cfg.shards),
		seed:    maphash.MakeSeed(),
		live:    live,
	}
	for i := range cfg.shards {
		r.forward[i] = &forwardShard[K]{members: make(map[K]memberSet)}
		r.reverse[i] = &reverseShard[K]{keys: make(map[models.ConnectionID]map[K]struct{})}
	}
	return r
}

func (r *Relation[K]) forwardFor(key K) *forwardShard[K] {
	return r.forward[shardIndex(r.seed, key, len(r.forward))]
}

func (r *Relation[K]) reverseFor(id models.ConnectionID) *reverseShard[K] {
	return r.reverse[shardIndex(r.seed, id, len(r.reverse))]
}

// Add relates conn to key. It reports whether the pair is new.
func (r *Relation[K]) Add(conn models.ConnectionID, key K) (bool, error) {
	rs := r.reverseFor(conn)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if r.live != nil && !r.live.IsLive(conn) {
		return false, errNotLive
	}
	held := rs.keys[conn]
	if _, ok := held[key]; ok {
		return false, nil
	}
	if held == nil {
		held = make(map[K]struct{})
		rs.keys[conn] = held
	}
	held[key] = struct{}{}

	fs := r.forwardFor(key)
	fs.mu.Lock()
	set := fs.members[key]
	if set == nil {
		set = make(memberSet)
		fs.members[key] = set
	}
	set[conn] = struct{}{}
	fs.mu.Unlock()
	return true, nil
}

// Remove unrelates conn from key, deleting either side's entry once empty.
// It reports whether the pair existed.
func (r *Relation[K]) Remove(conn models.ConnectionID, key K) bool {
	rs := r.reverseFor(conn)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	held := rs.keys[conn]
	if _, ok := held[key]; !ok {
		return false
	}
	delete(held, key)
	if len(held) == 0 {
		delete(rs.keys, conn)
	}
	r.removeForward(conn, key)
	return true
}

// Members returns a snapshot of the connections related to key.
func (r *Relation[K]) Members(key K) []models.ConnectionID {
	fs := r.forwardFor(key)
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	set := fs.members[key]
	if len(set) == 0 {
		return nil
	}
	out := make([]models.ConnectionID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Contains reports whether conn is related to key.
func (r *Relation[K]) Contains(conn models.ConnectionID, key K) bool {
	fs := r.forwardFor(key)
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, ok := fs.members[key][conn]
	return ok
}

// KeysOf returns a snapshot of the keys conn is related to.
func (r *Relation[K]) KeysOf(conn models.ConnectionID) []K {
	rs := r.reverseFor(conn)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	held := rs.keys[conn]
	out := make([]K, 0, len(held))
	for k := range held {
		out = append(out, k)
	}
	return out
}

// DropConnection removes every pair involving conn and returns how many
// there were. Cost is proportional to the memberships conn held.
func (r *Relation[K]) DropConnection(conn models.ConnectionID) int {
	rs := r.reverseFor(conn)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	held := rs.keys[conn]
	delete(rs.keys, conn)
	for key := range held {
		r.removeForward(conn, key)
	}
	return len(held)
}

// Keys returns the number of keys with at least one member.
func (r *Relation[K]) Keys() int {
	n := 0
	for _, fs := range r.forward {
		fs.mu.RLock()
		n += len(fs.members)
		fs.mu.RUnlock()
	}
	return n
}

// must hold the reverse shard of conn.
func (r *Relation[K]) removeForward(conn models.ConnectionID, key K) {
	fs := r.forwardFor(key)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	set := fs.members[key]
	delete(set, conn)
	if len(set) == 0 {
		delete(fs.members, key)
	}
}
