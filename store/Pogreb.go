/*
File Name:  Pogreb.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package store

import (
	"errors"
	"io"
	"log"
	"sync"

	"github.com/akrylysov/pogreb"
)

// PogrebStore is a key/value store using Pogreb.
type PogrebStore struct {
	mutex    *sync.Mutex
	filename string
	db       *pogreb.DB
}

// NewPogrebStore create a properly initialized Pogreb store.
func NewPogrebStore(filename string) (store *PogrebStore, err error) {
	pogreb.SetLogger(log.New(io.Discard, "", 0))

	// if the database does not exist, it will be created
	db, err := pogreb.Open(filename, nil)
	if err != nil {
		return nil, err
	}

	return &PogrebStore{
		mutex:    &sync.Mutex{},
		filename: filename,
		db:       db,
	}, nil
}

// Set stores the key/value pair.
func (store *PogrebStore) Set(key []byte, data []byte) error {
	return store.db.Put(key, data)
}

// Get returns the value for the key if present.
func (store *PogrebStore) Get(key []byte) (data []byte, found bool) {
	value, err := store.db.Get(key)
	if err != nil || value == nil {
		return nil, false
	}
	return value, true
}

// Delete deletes a key/value pair.
func (store *PogrebStore) Delete(key []byte) {
	store.db.Delete(key)
}

// Iterate calls the callback for all key/value pairs. Iteration stops at the first read error.
func (store *PogrebStore) Iterate(callback func(key, value []byte)) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	it := store.db.Items()
	for {
		key, value, err := it.Next()
		if err != nil {
			if !errors.Is(err, pogreb.ErrIterationDone) {
				log.Printf("[PogrebStore.Iterate] Error iterating '%s': %v\n", store.filename, err)
			}
			return
		}
		callback(key, value)
	}
}

// Count returns the count of stored keys.
func (store *PogrebStore) Count() uint64 {
	return uint64(store.db.Count())
}

// Close closes the database.
func (store *PogrebStore) Close() error {
	return store.db.Close()
}
