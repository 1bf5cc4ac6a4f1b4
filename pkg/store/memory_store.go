package store

import (
	"context"
	"fmt"
	"sync"
)

type memoryCollection struct {
	docs   map[string]Document
	orders []string
}

// MemoryStore keeps documents in-process. Collections remember insertion
// order, which is the tie-break for ordered queries.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memoryCollection)}
}

func (m *MemoryStore) collection(name string) *memoryCollection {
	c, ok := m.collections[name]
	if !ok {
		c = &memoryCollection{docs: make(map[string]Document)}
		m.collections[name] = c
	}
	return c
}

// Set stores or replaces a document.
func (m *MemoryStore) Set(ctx context.Context, collection, id string, doc Document) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	stored, err := normalizeDocument(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	if _, exists := c.docs[id]; !exists {
		c.orders = append(c.orders, id)
	}
	c.docs[id] = stored
	return nil
}

// Get returns a copy of the document.
func (m *MemoryStore) Get(ctx context.Context, collection, id string) (Document, bool, error) {
	if err := validateKey(collection, id); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, false, nil
	}
	doc, ok := c.docs[id]
	if !ok {
		return nil, false, nil
	}
	out, err := normalizeDocument(doc)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Update merges top-level fields of patch into an existing document.
func (m *MemoryStore) Update(ctx context.Context, collection, id string, patch Document) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	fields, err := normalizeDocument(patch)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	doc, ok := c.docs[id]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	for k, v := range fields {
		doc[k] = v
	}
	return nil
}

// Delete removes a document.
func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if _, ok := c.docs[id]; !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	delete(c.docs, id)
	for i, existing := range c.orders {
		if existing == id {
			c.orders = append(c.orders[:i], c.orders[i+1:]...)
			break
		}
	}
	return nil
}

// Query filters in insertion order, then sorts stably and applies the limit.
func (m *MemoryStore) Query(ctx context.Context, collection string, q Query) ([]Snapshot, error) {
	if collection == "" {
		return nil, fmt.Errorf("%w: empty collection", ErrInvalidQuery)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	q, err := normalizeQuery(q)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return []Snapshot{}, nil
	}
	res := make([]Snapshot, 0, len(c.orders))
	for _, id := range c.orders {
		doc := c.docs[id]
		if !matches(doc, q.Predicates) {
			continue
		}
		if q.OrderBy != "" {
			if _, ok := doc[q.OrderBy]; !ok {
				continue
			}
		}
		out, err := normalizeDocument(doc)
		if err != nil {
			return nil, err
		}
		res = append(res, Snapshot{ID: id, Data: out})
	}
	if q.OrderBy != "" {
		sortSnapshots(res, q.OrderBy, q.Direction)
	}
	if q.Limit > 0 && len(res) > q.Limit {
		res = res[:q.Limit]
	}
	return res, nil
}
