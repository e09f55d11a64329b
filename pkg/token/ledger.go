package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Atanda1/offramp/pkg/storage"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAmount         = errors.New("amount must be positive")
)

// Ledger tracks fungible-token balances and transfer allowances with uint256
// semantics, persisted in Pebble. It is the custody substrate under the
// escrow vault: funds only move through explicit transfers, and the ledger
// never creates or destroys units outside Mint.
//
// Standalone mutations (Mint, Approve, Transfer) commit their own writes.
// Multi-step fund movements inside an engine operation go through a Tx, which
// overlays staged balances on top of stored state and writes into the
// operation's batch so everything commits together.
type Ledger struct {
	mu    sync.Mutex
	store *storage.Store
}

func NewLedger(store *storage.Store) *Ledger {
	return &Ledger{store: store}
}

// BalanceOf returns the holder's balance, zero for unknown holders.
func (l *Ledger) BalanceOf(token, holder common.Address) (*big.Int, error) {
	return l.readAmount(balanceKey(token, holder))
}

// Allowance returns what spender may still pull from owner.
func (l *Ledger) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	return l.readAmount(allowanceKey(token, owner, spender))
}

// Mint credits newly issued units to an address. Devnet/test faucet path;
// production deployments bridge real deposits in through the same call.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal, err := l.readAmount(balanceKey(token, to))
	if err != nil {
		return err
	}
	bal.Add(bal, amount)
	return l.store.Set(balanceKey(token, to), bal.Bytes())
}

// Approve sets (not increments) spender's allowance from owner.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.store.Set(allowanceKey(token, owner, spender), amount.Bytes())
}

// Transfer moves amount from one holder to another as a standalone durable
// write. Engine-internal movements use a Tx instead.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.store.NewBatch()
	defer b.Close()

	tx := l.beginLocked(b)
	if err := tx.Transfer(token, from, to, amount); err != nil {
		return err
	}
	return b.Commit()
}

// TotalHeld sums every balance of one token. Supply audit helper.
func (l *Ledger) TotalHeld(token common.Address) (*big.Int, error) {
	total := new(big.Int)
	err := l.store.Iter(balancePrefix(token), func(_, val []byte) error {
		total.Add(total, new(big.Int).SetBytes(val))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return total, nil
}

func (l *Ledger) readAmount(key []byte) (*big.Int, error) {
	val, found, err := l.store.Get(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return new(big.Int), nil
	}
	return new(big.Int).SetBytes(val), nil
}

// Tx stages balance and allowance changes into a batch. Reads see the staged
// values, so several transfers touching the same account inside one operation
// compose correctly. Nothing is durable until the batch commits; a discarded
// batch leaves the ledger untouched.
type Tx struct {
	l          *Ledger
	b          *storage.Batch
	balances   map[string]*big.Int
	allowances map[string]*big.Int
}

// Begin opens a staged transaction writing into b. The caller must hold the
// engine-level serialization (one mutation at a time); the ledger mutex only
// guards standalone operations.
func (l *Ledger) Begin(b *storage.Batch) *Tx {
	return l.beginLocked(b)
}

func (l *Ledger) beginLocked(b *storage.Batch) *Tx {
	return &Tx{
		l:          l,
		b:          b,
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]*big.Int),
	}
}

// Transfer moves amount between holders inside the transaction.
func (tx *Tx) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}

	fromBal, err := tx.balance(token, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s of %s",
			ErrInsufficientBalance, from.Hex(), fromBal, amount, token.Hex())
	}

	toBal, err := tx.balance(token, to)
	if err != nil {
		return err
	}

	fromBal.Sub(fromBal, amount)
	toBal.Add(toBal, amount)

	if err := tx.b.Set(balanceKey(token, from), fromBal.Bytes()); err != nil {
		return err
	}
	return tx.b.Set(balanceKey(token, to), toBal.Bytes())
}

// TransferFrom moves amount from owner to dst, consuming spender's allowance.
func (tx *Tx) TransferFrom(token, owner, spender, dst common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	allowed, err := tx.allowance(token, owner, spender)
	if err != nil {
		return err
	}
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allowed %s, needs %s",
			ErrInsufficientAllowance, spender.Hex(), allowed, amount)
	}

	if err := tx.Transfer(token, owner, dst, amount); err != nil {
		return err
	}

	allowed.Sub(allowed, amount)
	return tx.b.Set(allowanceKey(token, owner, spender), allowed.Bytes())
}

func (tx *Tx) balance(token, holder common.Address) (*big.Int, error) {
	key := balanceKey(token, holder)
	if v, ok := tx.balances[string(key)]; ok {
		return v, nil
	}
	v, err := tx.l.readAmount(key)
	if err != nil {
		return nil, err
	}
	tx.balances[string(key)] = v
	return v, nil
}

func (tx *Tx) allowance(token, owner, spender common.Address) (*big.Int, error) {
	key := allowanceKey(token, owner, spender)
	if v, ok := tx.allowances[string(key)]; ok {
		return v, nil
	}
	v, err := tx.l.readAmount(key)
	if err != nil {
		return nil, err
	}
	tx.allowances[string(key)] = v
	return v, nil
}
