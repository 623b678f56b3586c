/*
File Name:  Memory.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package store

import (
	"sync"
)

// MemoryStore is a simple in-memory key/value store.
type MemoryStore struct {
	mutex *sync.Mutex
	data  map[string][]byte
}

// NewMemoryStore create a properly initialized memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:  make(map[string][]byte),
		mutex: &sync.Mutex{},
	}
}

// Set stores the key/value pair.
func (ms *MemoryStore) Set(key []byte, data []byte) error {
	value := make([]byte, len(data))
	copy(value, data)

	ms.mutex.Lock()
	ms.data[string(key)] = value
	ms.mutex.Unlock()
	return nil
}

// Get returns the value for the key if present.
func (ms *MemoryStore) Get(key []byte) (data []byte, found bool) {
	ms.mutex.Lock()
	data, found = ms.data[string(key)]
	ms.mutex.Unlock()
	return data, found
}

// Delete deletes a key/value pair.
func (ms *MemoryStore) Delete(key []byte) {
	ms.mutex.Lock()
	delete(ms.data, string(key))
	ms.mutex.Unlock()
}

// Iterate calls the callback for all key/value pairs. The callback must not modify the store.
func (ms *MemoryStore) Iterate(callback func(key, value []byte)) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	for key, value := range ms.data {
		callback([]byte(key), value)
	}
}

// Count returns the count of stored keys.
func (ms *MemoryStore) Count() uint64 {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	return uint64(len(ms.data))
}

// Close is a no-op for the memory store.
func (ms *MemoryStore) Close() error {
	return nil
}
