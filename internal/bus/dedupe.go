package bus

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// Dedup remembers recently seen envelope ids.
type Dedup struct {
	cache *lru.Cache
}

// NewDedup creates a Dedup remembering the last size ids.
func NewDedup(size int) (*Dedup, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &Dedup{cache: cache}, nil
}

// Seen records id and reports whether it had already been recorded.
func (d *Dedup) Seen(id string) bool {
	seen, _ := d.cache.ContainsOrAdd(id, struct{}{})
	return seen
}

// Wrap returns a handler that passes each envelope id to next once.
// onDuplicate, if set, receives the dropped envelopes.
func (d *Dedup) Wrap(next Handler, onDuplicate func(Envelope)) Handler {
	return func(env Envelope) {
		if d.Seen(env.ID) {
			if onDuplicate != nil {
				onDuplicate(env)
			}
			return
		}
		next(env)
	}
}

// NewDedupHandler wraps next with a fresh Dedup of the given size.
func NewDedupHandler(size int, next Handler) (Handler, error) {
	d, err := NewDedup(size)
	if err != nil {
		return nil, err
	}
	return d.Wrap(next, nil), nil
}
