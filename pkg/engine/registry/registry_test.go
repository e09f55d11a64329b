package registry

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Atanda1/offramp/pkg/engine/events"
	"github.com/Atanda1/offramp/pkg/storage"
	"github.com/Atanda1/offramp/pkg/util"
)

var (
	owner      = common.HexToAddress("0x1100000000000000000000000000000000000000")
	treasury   = common.HexToAddress("0x2200000000000000000000000000000000000000")
	aggregator = common.HexToAddress("0x3300000000000000000000000000000000000000")
	sender     = common.HexToAddress("0x4400000000000000000000000000000000000000")
	stranger   = common.HexToAddress("0x9900000000000000000000000000000000000000")
)

func newTestStore(t *testing.T) *storage.Store {
	dbPath := fmt.Sprintf("./tmp_test_registry_%s.db", t.Name())
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
	return kv
}

func newTestRegistry(t *testing.T) *Registry {
	r, err := New(newTestStore(t), util.FixedClock{T: time.UnixMilli(1700000000000)}, events.NewBus())
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	if err := r.BootstrapOwner(owner); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	return r
}

func TestBootstrapOwnerOnce(t *testing.T) {
	r := newTestRegistry(t)

	// A second bootstrap must not displace the existing owner.
	if err := r.BootstrapOwner(stranger); err != nil {
		t.Fatalf("re-bootstrap errored: %v", err)
	}
	if got := r.Owner(); got != owner {
		t.Errorf("owner = %s, want %s", got.Hex(), owner.Hex())
	}

	if err := r.BootstrapOwner(common.Address{}); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("zero owner accepted: %v", err)
	}
}

func TestTransferOwnership(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.TransferOwnership(stranger, stranger); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("non-owner transfer accepted: %v", err)
	}

	newOwner := common.HexToAddress("0x5500000000000000000000000000000000000000")
	if err := r.TransferOwnership(owner, newOwner); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if got := r.Owner(); got != newOwner {
		t.Errorf("owner = %s, want %s", got.Hex(), newOwner.Hex())
	}

	// The old owner has no authority left.
	if err := r.TransferOwnership(owner, owner); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("stale owner still authorized: %v", err)
	}
}

func TestSetProtocolAddress(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.SetProtocolAddress(owner, RoleTreasury, treasury); err != nil {
		t.Fatalf("set treasury failed: %v", err)
	}
	if err := r.SetProtocolAddress(owner, RoleAggregator, aggregator); err != nil {
		t.Fatalf("set aggregator failed: %v", err)
	}

	if got := r.ProtocolAddress(RoleTreasury); got != treasury {
		t.Errorf("treasury = %s", got.Hex())
	}
	if got := r.ProtocolAddress(RoleAggregator); got != aggregator {
		t.Errorf("aggregator = %s", got.Hex())
	}

	if err := r.SetProtocolAddress(stranger, RoleTreasury, stranger); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("non-owner role change accepted: %v", err)
	}
	if err := r.SetProtocolAddress(owner, RoleTreasury, common.Address{}); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("zero role holder accepted: %v", err)
	}
	if err := r.SetProtocolAddress(owner, "oracle", treasury); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("unknown role accepted: %v", err)
	}
	// The owner role only moves through TransferOwnership.
	if err := r.SetProtocolAddress(owner, RoleOwner, stranger); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("owner role updated via SetProtocolAddress: %v", err)
	}
}

func TestInstitutions(t *testing.T) {
	r := newTestRegistry(t)

	gtb := Institution{Code: "GTBINGLA", Name: "Guaranty Trust Bank", Currency: "NGN"}
	if err := r.SetInstitution(owner, gtb); err != nil {
		t.Fatalf("set institution failed: %v", err)
	}

	got, ok := r.Institution("GTBINGLA")
	if !ok {
		t.Fatal("institution not found")
	}
	if got.Currency != "NGN" {
		t.Errorf("currency = %s", got.Currency)
	}

	if err := r.SetInstitution(stranger, gtb); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("non-owner set accepted: %v", err)
	}
	if err := r.SetInstitution(owner, Institution{}); err == nil {
		t.Error("empty code accepted")
	}

	if err := r.RemoveInstitution(owner, "GTBINGLA"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, ok := r.Institution("GTBINGLA"); ok {
		t.Error("institution survived removal")
	}
	if len(r.Institutions()) != 0 {
		t.Errorf("institutions = %v", r.Institutions())
	}
}

func TestSenderAllowList(t *testing.T) {
	r := newTestRegistry(t)

	if r.IsSenderAllowed(sender) {
		t.Error("sender allowed by default")
	}

	if err := r.SetSenderAllowed(owner, sender, true); err != nil {
		t.Fatalf("allow failed: %v", err)
	}
	if !r.IsSenderAllowed(sender) {
		t.Error("sender not allowed after toggle")
	}

	if err := r.SetSenderAllowed(owner, sender, false); err != nil {
		t.Fatalf("disallow failed: %v", err)
	}
	if r.IsSenderAllowed(sender) {
		t.Error("sender still allowed after revoke")
	}

	if err := r.SetSenderAllowed(stranger, sender, true); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("non-owner toggle accepted: %v", err)
	}
}

// Registry state must reload from the store on restart.
func TestReload(t *testing.T) {
	dbPath := fmt.Sprintf("./tmp_test_registry_%s.db", t.Name())
	os.RemoveAll(dbPath)
	t.Cleanup(func() {
		os.RemoveAll(dbPath)
	})

	kv, err := storage.Open(dbPath)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	clock := util.FixedClock{T: time.UnixMilli(1700000000000)}
	r, err := New(kv, clock, events.NewBus())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	r.BootstrapOwner(owner)
	r.SetProtocolAddress(owner, RoleAggregator, aggregator)
	r.SetInstitution(owner, Institution{Code: "FBNINGLA", Name: "First Bank", Currency: "NGN"})
	r.SetSenderAllowed(owner, sender, true)
	kv.Close()

	kv2, err := storage.Open(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer kv2.Close()

	r2, err := New(kv2, clock, events.NewBus())
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if r2.Owner() != owner {
		t.Error("owner lost on reload")
	}
	if r2.ProtocolAddress(RoleAggregator) != aggregator {
		t.Error("aggregator lost on reload")
	}
	if _, ok := r2.Institution("FBNINGLA"); !ok {
		t.Error("institution lost on reload")
	}
	if !r2.IsSenderAllowed(sender) {
		t.Error("allow-list lost on reload")
	}
}

func TestRegistryEventsOnBus(t *testing.T) {
	kv := newTestStore(t)
	bus := events.NewBus()
	sub := bus.Subscribe(16)

	r, err := New(kv, util.FixedClock{T: time.UnixMilli(1700000000000)}, bus)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	r.BootstrapOwner(owner)

	if err := r.SetSenderAllowed(owner, sender, true); err != nil {
		t.Fatalf("allow failed: %v", err)
	}

	select {
	case ev := <-sub:
		if ev.Type != events.TypeSettingManagerBool {
			t.Errorf("event type = %s", ev.Type)
		}
		data, ok := ev.Data.(events.SettingManagerBool)
		if !ok {
			t.Fatalf("unexpected payload %T", ev.Data)
		}
		if data.Setting != SenderAllowedSetting || data.Target != sender || !data.Value {
			t.Errorf("payload = %+v", data)
		}
	default:
		t.Fatal("no event published")
	}
}
