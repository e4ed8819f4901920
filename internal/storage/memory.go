package storage

import (
	"context"
	"sort"
	"sync"

	appconfig "cryptoingest/config"
)

// MemoryStore keeps objects in process memory. Used for dry runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

func (m *MemoryStore) Backend() string { return appconfig.BackendMemory }

func (m *MemoryStore) Put(ctx context.Context, obj Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := obj
	stored.Body = append([]byte(nil), obj.Body...)
	if obj.Metadata != nil {
		stored.Metadata = make(map[string]string, len(obj.Metadata))
		for k, v := range obj.Metadata {
			stored.Metadata[k] = v
		}
	}

	m.mu.Lock()
	m.objects[objectID(obj.Container, obj.Key)] = stored
	m.mu.Unlock()
	return nil
}

// Get returns the object stored under container/key.
func (m *MemoryStore) Get(container, key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[objectID(container, key)]
	return obj, ok
}

// Keys lists the keys stored in container in lexical order.
func (m *MemoryStore) Keys(container string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for _, obj := range m.objects {
		if obj.Container == container {
			keys = append(keys, obj.Key)
		}
	}
	sort.Strings(keys)
	return keys
}

func objectID(container, key string) string {
	return container + "/" + key
}
