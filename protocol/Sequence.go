/*
File Name:  Sequence.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

This code caches and verifies message sequences. A sequence is created for every outgoing request and keyed by the unique ID
the router assigned to the request. Incoming responses carry the unique ID of the request they answer (caller unique ID).

Every sequence is resolved exactly once: Either by the first valid response or by expiration. A response arriving after the
sequence was resolved does not find it anymore and is dropped by the caller.

Advantages:
* Responses that were never requested are detected and dropped.
* Duplicate responses are deduplicated.
* The round-trip time can be measured and used to determine the connection quality.
*/

package protocol

import (
	"sync"
	"time"
)

// SequenceManager stores all message sequences that are valid at the moment.
// Expiration is driven by the caller via ExpireSequences, there is no background worker.
type SequenceManager struct {
	ReplyTimeout time.Duration // Default round-trip timeout for message sequences.

	// sequences is the list of outstanding requests. Key = unique ID of the request.
	sequences map[int64]*SequenceExpiry

	sync.Mutex // synchronized access to the sequences
}

// SequenceExpiry contains the information of an outstanding request.
type SequenceExpiry struct {
	UniqueID int64       // Unique ID of the request
	Address  string      // Address the request was sent to
	Command  Command     // Command of the expected response
	created  time.Time   // When the sequence was created.
	expires  time.Time   // When the sequence expires.
	resolved bool        // Whether the sequence was resolved (by response or expiration).
	Data     interface{} // Optional high-level data associated with the sequence
}

// NewSequenceManager creates a new sequence manager.
func NewSequenceManager(ReplyTimeout time.Duration) (manager *SequenceManager) {
	return &SequenceManager{
		ReplyTimeout: ReplyTimeout,
		sequences:    make(map[int64]*SequenceExpiry),
	}
}

// NewSequence registers a new sequence for the request with the given unique ID. A timeout of 0 uses the default reply timeout.
func (manager *SequenceManager) NewSequence(uniqueID int64, address string, command Command, now time.Time, timeout time.Duration, data interface{}) (info *SequenceExpiry) {
	if timeout <= 0 {
		timeout = manager.ReplyTimeout
	}

	info = &SequenceExpiry{
		UniqueID: uniqueID,
		Address:  address,
		Command:  command,
		created:  now,
		expires:  now.Add(timeout),
		Data:     data,
	}

	manager.Lock()
	manager.sequences[uniqueID] = info
	manager.Unlock()

	return info
}

// ValidateSequence validates the caller unique ID of an incoming response and removes the sequence.
// The response must come from the address the request was sent to and carry the expected command, otherwise the sequence is kept.
// If the sequence is expired but not yet swept, it is removed as well and valid is false; the caller must treat it as timeout.
func (manager *SequenceManager) ValidateSequence(callerUniqueID int64, address string, command Command, now time.Time) (sequenceInfo *SequenceExpiry, valid bool, rtt time.Duration) {
	manager.Lock()
	defer manager.Unlock()

	// lookup the sequence
	sequence, ok := manager.sequences[callerUniqueID]
	if !ok || sequence.Address != address || sequence.Command != command {
		return nil, false, rtt
	}

	delete(manager.sequences, callerUniqueID)

	return sequence, !sequence.expires.Before(now), now.Sub(sequence.created)
}

// InvalidateSequence removes the sequence without resolving it.
func (manager *SequenceManager) InvalidateSequence(uniqueID int64) {
	manager.Lock()
	delete(manager.sequences, uniqueID)
	manager.Unlock()
}

// ExpireSequences removes all sequences that are expired and returns them.
func (manager *SequenceManager) ExpireSequences(now time.Time) (expired []*SequenceExpiry) {
	manager.Lock()
	defer manager.Unlock()

	for key, sequence := range manager.sequences {
		if sequence.expires.Before(now) {
			delete(manager.sequences, key)
			expired = append(expired, sequence)
		}
	}

	return expired
}

// Count returns the count of outstanding sequences.
func (manager *SequenceManager) Count() int {
	manager.Lock()
	defer manager.Unlock()

	return len(manager.sequences)
}

// MarkResolved marks the sequence as resolved. It returns false if it was already resolved, which indicates a bug in the caller.
func (info *SequenceExpiry) MarkResolved() bool {
	if info.resolved {
		return false
	}
	info.resolved = true
	return true
}
