package token

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema for the token ledger.
// Balances and allowances are keyed by token first so one token's state is a
// contiguous range (useful for supply audits via prefix scan).

const (
	prefixBalance   = "bal:"
	prefixAllowance = "alw:"
)

// balanceKey returns the key for a holder's balance of one token.
// Format: "bal:{token}:{holder}"
func balanceKey(token, holder common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, token.Hex(), holder.Hex()))
}

// allowanceKey returns the key for a spender's allowance from owner.
// Format: "alw:{token}:{owner}:{spender}"
func allowanceKey(token, owner, spender common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", prefixAllowance, token.Hex(), owner.Hex(), spender.Hex()))
}

// balancePrefix returns the prefix of every balance entry for a token.
func balancePrefix(token common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixBalance, token.Hex()))
}
