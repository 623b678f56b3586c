/*
File Name:  Blacklist.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Blacklisted peers are never connected to and never admitted. All nodes of a simulation share one database;
every key is prefixed with the peer ID of the node that blacklisted the peer.
*/

package core

import (
	"encoding/binary"
	"sort"

	"github.com/PeernetOfficial/overlay/store"
)

// BlacklistEntry is a single blacklisted peer.
type BlacklistEntry struct {
	PeerID int64
	Reason string
}

// Blacklist is the blacklist of a single node.
type Blacklist struct {
	Database store.Store // The database storing the blacklist.
	owner    int64
}

// NewBlacklist returns the blacklist of the node within the database.
func NewBlacklist(database store.Store, owner int64) *Blacklist {
	return &Blacklist{Database: database, owner: owner}
}

func (blacklist *Blacklist) key(peerID int64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[0:8], uint64(blacklist.owner))
	binary.BigEndian.PutUint64(key[8:16], uint64(peerID))
	return key
}

// Add blacklists the peer.
func (blacklist *Blacklist) Add(peerID int64, reason string) (err error) {
	return blacklist.Database.Set(blacklist.key(peerID), []byte(reason))
}

// Contains checks if the peer is blacklisted.
func (blacklist *Blacklist) Contains(peerID int64) bool {
	_, found := blacklist.Database.Get(blacklist.key(peerID))
	return found
}

// Remove deletes the peer from the blacklist.
func (blacklist *Blacklist) Remove(peerID int64) {
	blacklist.Database.Delete(blacklist.key(peerID))
}

// List returns all peers blacklisted by the node sorted by peer ID.
func (blacklist *Blacklist) List() (entries []BlacklistEntry) {
	prefix := blacklist.key(0)[:8]

	blacklist.Database.Iterate(func(key, value []byte) {
		if len(key) != 16 || string(key[:8]) != string(prefix) {
			return
		}
		entries = append(entries, BlacklistEntry{PeerID: int64(binary.BigEndian.Uint64(key[8:16])), Reason: string(value)})
	})

	sort.Slice(entries, func(i, j int) bool { return entries[i].PeerID < entries[j].PeerID })
	return entries
}
