package registry

import (
	"hash/maphash"
	"sync"
)

// shardedLocks stripes mutual exclusion across a fixed number of buckets
// keyed by instance id, so mutations against distinct ids never contend.
// A single global lock would serialize unrelated ids for no reason.
type shardedLocks struct {
	seed    maphash.Seed
	mutexes []sync.Mutex
}

func newShardedLocks(stripes int) *shardedLocks {
	return &shardedLocks{
		seed:    maphash.MakeSeed(),
		mutexes: make([]sync.Mutex, stripes),
	}
}

func (s *shardedLocks) lockFor(id string) *sync.Mutex {
	h := maphash.Bytes(s.seed, []byte(id))
	return &s.mutexes[h%uint64(len(s.mutexes))]
}
