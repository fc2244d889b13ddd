package memory

import (
	"context"
	"sync"
)

type Dedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *Dedup) First(_ context.Context, scope, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	k := scope + ":" + id
	if d.seen[k] {
		return false, nil
	}
	d.seen[k] = true
	return true, nil
}

func (d *Dedup) Forget(_ context.Context, scope, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, scope+":"+id)
	return nil
}
