/*
File Name:  Peer ID.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import (
	"errors"
	"io"

	"github.com/PeernetOfficial/overlay/protocol"
	"github.com/btcsuite/btcd/btcec"
)

// Identity is the key pair of a node. It is a ECDSA (secp256k1) key pair.
// The peer ID is derived from the blake3 hash of the compressed public key.
type Identity struct {
	PrivateKey *btcec.PrivateKey
	PublicKey  *btcec.PublicKey
	PeerID     int64
}

// NewIdentity creates a new key pair. The private key is read from the random source, which allows deterministic simulations.
func NewIdentity(random io.Reader) (identity *Identity, err error) {
	keyData := make([]byte, btcec.PrivKeyBytesLen)

	// A key of all zeros or one outside the curve order is not valid. Retry with new random data.
	for n := 0; n < 8; n++ {
		if _, err = io.ReadFull(random, keyData); err != nil {
			return nil, err
		}

		privateKey, publicKey := btcec.PrivKeyFromBytes(btcec.S256(), keyData)
		if privateKey.D.Sign() == 0 || privateKey.D.Cmp(btcec.S256().N) >= 0 {
			continue
		}

		return &Identity{PrivateKey: privateKey, PublicKey: publicKey, PeerID: protocol.PublicKey2PeerID(publicKey)}, nil
	}

	return nil, errors.New("no valid private key")
}

// PublicKeyCompressed returns the public key in compressed form.
func (identity *Identity) PublicKeyCompressed() []byte {
	return identity.PublicKey.SerializeCompressed()
}
