package escrow

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/Atanda1/offramp/pkg/token"
)

// Vault is the custody account: a dedicated ledger address that receives
// every order deposit and releases funds only through the settlement and
// refund paths. Vault movements are staged into the same transaction as the
// order-state change that authorizes them, so custody and order state can
// never disagree.
type Vault struct {
	ledger *token.Ledger
	addr   common.Address
}

func NewVault(ledger *token.Ledger, addr common.Address) *Vault {
	return &Vault{ledger: ledger, addr: addr}
}

// DefaultAddress derives the well-known vault address from a fixed tag, so
// every deployment and every observer computes the same custody address.
func DefaultAddress() common.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("offramp/escrow-vault/v1"))
	return common.BytesToAddress(h.Sum(nil)[12:])
}

func (v *Vault) Address() common.Address {
	return v.addr
}

// Deposit pulls amount of tok from the depositor into custody. The depositor
// must have approved the vault address as spender beforehand.
func (v *Vault) Deposit(tx *token.Tx, tok, from common.Address, amount *big.Int) error {
	return tx.TransferFrom(tok, from, v.addr, v.addr, amount)
}

// Disburse pushes amount of tok from custody to a settlement or refund
// destination.
func (v *Vault) Disburse(tx *token.Tx, tok, to common.Address, amount *big.Int) error {
	return tx.Transfer(tok, v.addr, to, amount)
}

// Escrowed returns the custody balance for one token.
func (v *Vault) Escrowed(tok common.Address) (*big.Int, error) {
	return v.ledger.BalanceOf(tok, v.addr)
}
