package order

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// DeriveID computes the deterministic order identifier for a creator and its
// per-creator nonce:
//
//	keccak256(abi.encode(address creator, uint256 nonce))
//
// The encoding is two 32-byte words: the address left-padded to 32 bytes,
// then the nonce big-endian in the last 8 bytes of a zero word. Any observer
// who knows (creator, nonce) can recompute the ID; the strictly increasing
// nonce guarantees no creator ever collides with itself.
func DeriveID(creator common.Address, nonce uint64) common.Hash {
	var buf [64]byte
	copy(buf[12:32], creator.Bytes())
	binary.BigEndian.PutUint64(buf[56:64], nonce)

	h := sha3.NewLegacyKeccak256()
	h.Write(buf[:])

	var id common.Hash
	copy(id[:], h.Sum(nil))
	return id
}
