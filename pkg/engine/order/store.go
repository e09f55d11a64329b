package order

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Atanda1/offramp/pkg/storage"
)

// Store persists orders and creator nonces. Records are never deleted:
// settled and refunded orders stay queryable for audit. Mutations are staged
// into the caller's batch so an order write commits together with the fund
// movement that justified it.
type Store struct {
	kv *storage.Store
}

func NewStore(kv *storage.Store) *Store {
	return &Store{kv: kv}
}

// Get loads an order. Returns nil if the ID is unknown.
func (s *Store) Get(id common.Hash) (*Order, error) {
	data, found, err := s.kv.Get(orderKey(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var o Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order %s: %w", id.Hex(), err)
	}
	if o.SenderFee == nil {
		o.SenderFee = new(big.Int)
	}
	if o.SenderFeeLeft == nil {
		o.SenderFeeLeft = new(big.Int)
	}
	if o.EscrowLeft == nil {
		o.EscrowLeft = new(big.Int)
	}
	return &o, nil
}

// Stage writes an order record into the batch.
func (s *Store) Stage(b *storage.Batch, id common.Hash, o *Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order %s: %w", id.Hex(), err)
	}
	return b.Set(orderKey(id), data)
}

// CreatorNonce returns the last nonce used by a creator, zero if none.
func (s *Store) CreatorNonce(addr common.Address) (uint64, error) {
	val, found, err := s.kv.Get(nonceKey(addr))
	if err != nil {
		return 0, err
	}
	if !found || len(val) != 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(val), nil
}

// StageCreatorNonce writes a creator's nonce into the batch.
func (s *Store) StageCreatorNonce(b *storage.Batch, addr common.Address, nonce uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	return b.Set(nonceKey(addr), buf[:])
}
