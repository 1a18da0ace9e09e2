package exchange

import (
	"hash/fnv"
	"sync"
)

// State is the key-value substrate the ledger operates on. Implementations
// must return (nil, nil) from Get for an absent key, not an error.
type State interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

const lockStripes = 64

// keyLocks serializes read-modify-write cycles per keyed entity. Stripes are
// addressed by the entity's primary principal so independent patients,
// providers, and researchers do not contend with each other.
type keyLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *keyLocks) acquire(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	mu := &l.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu
}
