package otp

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// keyLocks serialises issuance per (address, purpose) inside one process using a
// fixed set of striped mutexes.
type keyLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *keyLocks) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
