package daemon

import (
	"sync"
	"time"

	"github.com/awnumar/memguard"
)

type item struct {
	buf     *memguard.LockedBuffer
	expires time.Time
}

// Table maps cache keys to secrets held in locked memory. Expired items are
// never returned: Get checks expiry itself and Sweep drops what nobody asked
// for.
type Table struct {
	mu    sync.Mutex
	items map[string]item
	now   func() time.Time
}

func NewTable(now func() time.Time) *Table {
	if now == nil {
		now = time.Now
	}
	return &Table{items: map[string]item{}, now: now}
}

// Store moves secret into locked memory, wiping the slice, and replaces any
// previous value for key.
func (t *Table) Store(key string, secret []byte, ttl time.Duration) {
	buf := memguard.NewBufferFromBytes(secret)
	buf.Freeze()

	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.items[key]; ok {
		old.buf.Destroy()
	}
	t.items[key] = item{buf: buf, expires: t.now().Add(ttl)}
}

// Get returns a copy of the secret. The caller owns and should wipe it.
func (t *Table) Get(key string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.items[key]
	if !ok {
		return nil, false
	}
	if !t.now().Before(it.expires) {
		it.buf.Destroy()
		delete(t.items, key)
		return nil, false
	}
	out := make([]byte, it.buf.Size())
	copy(out, it.buf.Bytes())
	return out, true
}

func (t *Table) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if it, ok := t.items[key]; ok {
		it.buf.Destroy()
		delete(t.items, key)
	}
}

// Sweep drops expired items and returns how many were dropped.
func (t *Table) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	n := 0
	for k, it := range t.items {
		if !now.Before(it.expires) {
			it.buf.Destroy()
			delete(t.items, k)
			n++
		}
	}
	return n
}

// Clear destroys every secret.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, it := range t.items {
		it.buf.Destroy()
		delete(t.items, k)
	}
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}
