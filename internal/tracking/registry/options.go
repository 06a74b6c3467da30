package registry

import "hash/maphash"

// DefaultShards is the shard count used when none is configured.
const DefaultShards = 32

type config struct {
	shards int
}

// Option configures a registry.
type Option func(*config)

// WithShards sets the number of lock shards. Values below one are ignored.
func WithShards(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.shards = n
		}
	}
}

func newConfig(opts []Option) config {
	cfg := config{shards: DefaultShards}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func shardIndex[K comparable](seed maphash.Seed, key K, n int) int {
	return int(maphash.Comparable(seed, key) % uint64(n))
}
