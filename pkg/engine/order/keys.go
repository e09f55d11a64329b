package order

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema for orders and creator nonces.

const (
	prefixOrder = "ord:"
	prefixNonce = "nonce:"
)

// orderKey returns the key for an order record.
// Format: "ord:{orderId}"
func orderKey(id common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixOrder, id.Hex()))
}

// nonceKey returns the key for a creator's order nonce.
// Format: "nonce:{address}"
func nonceKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixNonce, addr.Hex()))
}
