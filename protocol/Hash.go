/*
File Name:  Hash.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package protocol

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec"
	"lukechampine.com/blake3"
)

// HashData abstracts the hash function.
func HashData(data []byte) (hash []byte) {
	hash32 := blake3.Sum256(data)
	return hash32[:]
}

// HashSize is blake3 hash digest size = 256 bits
const HashSize = 32

// PublicKey2PeerID translates the public key into the peer ID. It is the first 8 bytes of the blake3 hash of the compressed public key.
// The highest bit is cleared so that peer IDs are always positive; 0 is never returned.
func PublicKey2PeerID(publicKey *btcec.PublicKey) (peerID int64) {
	hash := HashData(publicKey.SerializeCompressed())
	peerID = int64(binary.LittleEndian.Uint64(hash[:8]) & 0x7FFFFFFFFFFFFFFF)
	if peerID == 0 {
		peerID = 1
	}
	return peerID
}
