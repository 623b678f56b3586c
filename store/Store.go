/*
File Name:  Store.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Simple key-value store abstraction. It is used for data that should survive the lifetime of a single peer, for example the blacklist.
*/

package store

// Store is the interface for implementing the storage mechanism.
type Store interface {
	// Set stores the key/value pair. If the key already exists, the value is overwritten.
	Set(key []byte, data []byte) error

	// Get returns the value for the key if present.
	Get(key []byte) (data []byte, found bool)

	// Delete deletes a key/value pair.
	Delete(key []byte)

	// Iterate calls the callback for all key/value pairs. The order is undefined.
	Iterate(callback func(key, value []byte))

	// Count returns the count of stored keys.
	Count() uint64

	// Close closes the store. It must not be used afterwards.
	Close() error
}
