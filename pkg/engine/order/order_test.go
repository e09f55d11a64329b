package order

import (
	"fmt"
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/Atanda1/offramp/pkg/storage"
)

var (
	seller    = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	tokenAddr = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	recipient = common.HexToAddress("0xCC00000000000000000000000000000000000000")
)

func newTestOrder() *Order {
	return New(seller, tokenAddr, recipient, seller,
		big.NewInt(1_000_100), big.NewInt(100),
		decimal.NewFromFloat(1500.25), "GTBINGLA", "label-1", "msg-hash", 1700000000000)
}

func TestDeriveIDDeterministic(t *testing.T) {
	a := DeriveID(seller, 1)
	b := DeriveID(seller, 1)
	if a != b {
		t.Errorf("same inputs produced different IDs: %s vs %s", a.Hex(), b.Hex())
	}
	if a == (common.Hash{}) {
		t.Error("derived ID is zero")
	}
}

func TestDeriveIDUnique(t *testing.T) {
	seen := make(map[common.Hash]bool)
	for nonce := uint64(1); nonce <= 100; nonce++ {
		id := DeriveID(seller, nonce)
		if seen[id] {
			t.Fatalf("collision at nonce %d", nonce)
		}
		seen[id] = true
	}

	other := common.HexToAddress("0xBB00000000000000000000000000000000000000")
	if DeriveID(seller, 1) == DeriveID(other, 1) {
		t.Error("different creators collided on the same nonce")
	}
}

// Pin the encoding (two 32-byte words: padded address, big-endian nonce) by
// recomputing the digest independently.
func TestDeriveIDEncoding(t *testing.T) {
	creator := common.HexToAddress("0x1111111111111111111111111111111111111111")
	nonce := uint64(42)

	word1 := common.LeftPadBytes(creator.Bytes(), 32)
	word2 := common.LeftPadBytes(new(big.Int).SetUint64(nonce).Bytes(), 32)
	want := common.BytesToHash(gethcrypto.Keccak256(word1, word2))

	if got := DeriveID(creator, nonce); got != want {
		t.Errorf("ID = %s, want %s", got.Hex(), want.Hex())
	}
}

func TestOrderNewInitializesTrackers(t *testing.T) {
	o := newTestOrder()

	if o.CurrentBPS != MaxBPS {
		t.Errorf("currentBPS = %d, want %d", o.CurrentBPS, MaxBPS)
	}
	if o.IsFulfilled {
		t.Error("new order must not be fulfilled")
	}
	if o.EscrowLeft.Cmp(o.Amount) != 0 {
		t.Errorf("escrowLeft = %s, want %s", o.EscrowLeft, o.Amount)
	}
	if o.SenderFeeLeft.Cmp(o.SenderFee) != 0 {
		t.Errorf("senderFeeLeft = %s, want %s", o.SenderFeeLeft, o.SenderFee)
	}
	if o.Principal().Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("principal = %s, want 1000000", o.Principal())
	}
}

func TestOrderValidate(t *testing.T) {
	o := newTestOrder()
	if err := o.Validate(); err != nil {
		t.Fatalf("fresh order invalid: %v", err)
	}

	bad := newTestOrder()
	bad.SenderFee = new(big.Int).Set(bad.Amount)
	if err := bad.Validate(); err == nil {
		t.Error("fee equal to amount accepted")
	}

	bad = newTestOrder()
	bad.CurrentBPS = MaxBPS + 1
	if err := bad.Validate(); err == nil {
		t.Error("currentBPS above the whole accepted")
	}

	bad = newTestOrder()
	bad.IsFulfilled = true
	if err := bad.Validate(); err == nil {
		t.Error("fulfilled order with remaining escrow accepted")
	}

	bad = newTestOrder()
	bad.CurrentBPS = 0
	if err := bad.Validate(); err == nil {
		t.Error("exhausted but unfulfilled order accepted")
	}
}

func TestZeroRecord(t *testing.T) {
	z := Zero()
	if z.Exists() {
		t.Error("zero record claims to exist")
	}
	if z.Amount == nil || z.SenderFee == nil || z.EscrowLeft == nil || z.SenderFeeLeft == nil {
		t.Error("zero record has nil big.Ints")
	}

	o := newTestOrder()
	if !o.Exists() {
		t.Error("real order does not exist")
	}
}

func newTestStore(t *testing.T) *Store {
	dbPath := fmt.Sprintf("./tmp_test_orders_%s.db", t.Name())
	os.RemoveAll(dbPath)
	t.Cleanup(func() {
		os.RemoveAll(dbPath)
	})

	kv, err := storage.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		kv.Close()
	})
	return NewStore(kv)
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	o := newTestOrder()
	id := DeriveID(seller, 1)

	b := s.kv.NewBatch()
	if err := s.Stage(b, id, o); err != nil {
		t.Fatalf("stage failed: %v", err)
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	b.Close()

	got, err := s.Get(id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("order not found after commit")
	}
	if got.Seller != o.Seller || got.Amount.Cmp(o.Amount) != 0 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.Rate.Equal(o.Rate) {
		t.Errorf("rate = %s, want %s", got.Rate, o.Rate)
	}

	missing, err := s.Get(DeriveID(seller, 99))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if missing != nil {
		t.Error("unknown ID returned a record")
	}
}

func TestCreatorNonce(t *testing.T) {
	s := newTestStore(t)

	n, err := s.CreatorNonce(seller)
	if err != nil {
		t.Fatalf("nonce read failed: %v", err)
	}
	if n != 0 {
		t.Errorf("fresh creator nonce = %d, want 0", n)
	}

	b := s.kv.NewBatch()
	s.StageCreatorNonce(b, seller, 7)
	if err := b.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	b.Close()

	n, _ = s.CreatorNonce(seller)
	if n != 7 {
		t.Errorf("nonce = %d, want 7", n)
	}
}
