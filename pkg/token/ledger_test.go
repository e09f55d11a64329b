package token

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Atanda1/offramp/pkg/storage"
)

var (
	usdx  = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	carol = common.HexToAddress("0xCC00000000000000000000000000000000000000")
)

func newTestLedger(t *testing.T) (*Ledger, *storage.Store) {
	dbPath := fmt.Sprintf("./tmp_test_ledger_%s.db", t.Name())
	os.RemoveAll(dbPath)
	t.Cleanup(func() {
		os.RemoveAll(dbPath)
	})

	store, err := storage.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return NewLedger(store), store
}

func TestMintAndBalance(t *testing.T) {
	l, _ := newTestLedger(t)

	if err := l.Mint(usdx, alice, big.NewInt(1000)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	bal, err := l.BalanceOf(usdx, alice)
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if bal.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("balance = %s, want 1000", bal)
	}

	// Unknown holder reads as zero.
	bal, _ = l.BalanceOf(usdx, bob)
	if bal.Sign() != 0 {
		t.Errorf("expected zero balance, got %s", bal)
	}

	// Non-positive mints rejected.
	if err := l.Mint(usdx, alice, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestTransfer(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Mint(usdx, alice, big.NewInt(1000))

	if err := l.Transfer(usdx, alice, bob, big.NewInt(400)); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	aBal, _ := l.BalanceOf(usdx, alice)
	bBal, _ := l.BalanceOf(usdx, bob)
	if aBal.Cmp(big.NewInt(600)) != 0 {
		t.Errorf("alice = %s, want 600", aBal)
	}
	if bBal.Cmp(big.NewInt(400)) != 0 {
		t.Errorf("bob = %s, want 400", bBal)
	}

	err := l.Transfer(usdx, alice, bob, big.NewInt(601))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	aBal, _ = l.BalanceOf(usdx, alice)
	if aBal.Cmp(big.NewInt(600)) != 0 {
		t.Errorf("failed transfer changed balance: %s", aBal)
	}
}

func TestApproveAndTransferFrom(t *testing.T) {
	l, store := newTestLedger(t)
	l.Mint(usdx, alice, big.NewInt(1000))

	if err := l.Approve(usdx, alice, bob, big.NewInt(300)); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	allowed, _ := l.Allowance(usdx, alice, bob)
	if allowed.Cmp(big.NewInt(300)) != 0 {
		t.Errorf("allowance = %s, want 300", allowed)
	}

	b := store.NewBatch()
	tx := l.Begin(b)
	if err := tx.TransferFrom(usdx, alice, bob, carol, big.NewInt(200)); err != nil {
		t.Fatalf("transferFrom failed: %v", err)
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	b.Close()

	cBal, _ := l.BalanceOf(usdx, carol)
	if cBal.Cmp(big.NewInt(200)) != 0 {
		t.Errorf("carol = %s, want 200", cBal)
	}
	allowed, _ = l.Allowance(usdx, alice, bob)
	if allowed.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("allowance after spend = %s, want 100", allowed)
	}

	// Exceeding the remaining allowance fails.
	b2 := store.NewBatch()
	defer b2.Close()
	tx2 := l.Begin(b2)
	err := tx2.TransferFrom(usdx, alice, bob, carol, big.NewInt(101))
	if !errors.Is(err, ErrInsufficientAllowance) {
		t.Errorf("expected ErrInsufficientAllowance, got %v", err)
	}
}

// Several transfers in one Tx must see each other's staged balances.
func TestTxStagedReads(t *testing.T) {
	l, store := newTestLedger(t)
	l.Mint(usdx, alice, big.NewInt(100))

	b := store.NewBatch()
	tx := l.Begin(b)

	if err := tx.Transfer(usdx, alice, bob, big.NewInt(100)); err != nil {
		t.Fatalf("first transfer failed: %v", err)
	}
	// Bob only has funds inside the staged view.
	if err := tx.Transfer(usdx, bob, carol, big.NewInt(60)); err != nil {
		t.Fatalf("chained transfer failed: %v", err)
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	b.Close()

	bBal, _ := l.BalanceOf(usdx, bob)
	cBal, _ := l.BalanceOf(usdx, carol)
	if bBal.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("bob = %s, want 40", bBal)
	}
	if cBal.Cmp(big.NewInt(60)) != 0 {
		t.Errorf("carol = %s, want 60", cBal)
	}
}

// A discarded Tx batch leaves every balance untouched.
func TestTxDiscardLeavesNoTrace(t *testing.T) {
	l, store := newTestLedger(t)
	l.Mint(usdx, alice, big.NewInt(100))

	b := store.NewBatch()
	tx := l.Begin(b)
	if err := tx.Transfer(usdx, alice, bob, big.NewInt(100)); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	b.Close() // discard

	aBal, _ := l.BalanceOf(usdx, alice)
	bBal, _ := l.BalanceOf(usdx, bob)
	if aBal.Cmp(big.NewInt(100)) != 0 || bBal.Sign() != 0 {
		t.Errorf("discarded tx leaked: alice=%s bob=%s", aBal, bBal)
	}
}

func TestTotalHeld(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Mint(usdx, alice, big.NewInt(700))
	l.Mint(usdx, bob, big.NewInt(300))

	// Another token's balances must not leak into the sum.
	other := common.HexToAddress("0x00000000000000000000000000000000000000BB")
	l.Mint(other, carol, big.NewInt(999))

	total, err := l.TotalHeld(usdx)
	if err != nil {
		t.Fatalf("totalHeld failed: %v", err)
	}
	if total.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("total = %s, want 1000", total)
	}
}
