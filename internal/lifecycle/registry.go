package lifecycle

import (
	"sync"
)

// Registry owns document records. Every stored value is replaced whole, so a
// reader copying a record under the read lock never sees a half-applied
// transition. Mutations go through the Engine only.
type Registry struct {
	mu    sync.RWMutex
	docs  map[string]DocumentRecord
	order []string
}

func NewRegistry() *Registry {
	return &Registry{docs: map[string]DocumentRecord{}}
}

func (r *Registry) Get(id string) (DocumentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return DocumentRecord{}, notFound("document", id)
	}
	return doc.clone(), nil
}

// List returns copies of all documents in creation order.
func (r *Registry) List() []DocumentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DocumentRecord, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.docs[id].clone())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}

func (r *Registry) insert(doc DocumentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = doc.clone()
	r.order = append(r.order, doc.ID)
}

func (r *Registry) replace(doc DocumentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = doc.clone()
}

// keyedMutex hands out one mutex per key so that mutations of the same
// document are serialized while different documents proceed in parallel.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*sync.Mutex{}}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}
