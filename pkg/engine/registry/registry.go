package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Atanda1/offramp/pkg/engine/events"
	"github.com/Atanda1/offramp/pkg/storage"
	"github.com/Atanda1/offramp/pkg/util"
)

var (
	ErrUnauthorized   = errors.New("caller is not authorized")
	ErrInvalidAddress = errors.New("invalid zero address")
	ErrUnknownRole    = errors.New("unknown protocol role")
)

// Protocol role names with a single current holder each.
const (
	RoleOwner      = "owner"
	RoleTreasury   = "treasury"
	RoleAggregator = "aggregator"
)

// SenderAllowedSetting is the setting key emitted when the sender allow-list
// is toggled.
const SenderAllowedSetting = "whitelist"

// Institution is one supported payment destination: a bank or mobile-money
// operator identified by a short uppercased code.
type Institution struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

// Registry holds protocol-wide configuration: role holders, the sender
// allow-list, and the supported-institution set. Every mutation is
// owner-gated against an explicit caller identity and takes effect for
// subsequent calls only; entries are durable and cached in memory.
type Registry struct {
	mu    sync.RWMutex
	kv    *storage.Store
	clock util.Clock
	bus   *events.Bus

	roles        map[string]common.Address
	institutions map[string]Institution
	allowed      map[common.Address]bool
}

// New loads registry state from the store.
func New(kv *storage.Store, clock util.Clock, bus *events.Bus) (*Registry, error) {
	r := &Registry{
		kv:           kv,
		clock:        clock,
		bus:          bus,
		roles:        make(map[string]common.Address),
		institutions: make(map[string]Institution),
		allowed:      make(map[common.Address]bool),
	}

	err := kv.Iter([]byte(prefixRole), func(key, val []byte) error {
		role := strings.TrimPrefix(string(key), prefixRole)
		r.roles[role] = common.BytesToAddress(val)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}

	err = kv.Iter(institutionPrefix(), func(_, val []byte) error {
		var inst Institution
		if err := json.Unmarshal(val, &inst); err != nil {
			return nil // skip undecodable entries
		}
		r.institutions[inst.Code] = inst
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load institutions: %w", err)
	}

	err = kv.Iter([]byte(prefixAllowed), func(key, val []byte) error {
		hexAddr := strings.TrimPrefix(string(key), prefixAllowed)
		if common.IsHexAddress(hexAddr) && len(val) == 1 && val[0] == 1 {
			r.allowed[common.HexToAddress(hexAddr)] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load allow-list: %w", err)
	}

	return r, nil
}

// Owner returns the current owner, zero if never bootstrapped.
func (r *Registry) Owner() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[RoleOwner]
}

// BootstrapOwner sets the owner role if and only if no owner exists yet.
// Called once at first boot; later owner changes go through
// TransferOwnership.
func (r *Registry) BootstrapOwner(addr common.Address) error {
	if addr == (common.Address{}) {
		return ErrInvalidAddress
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.roles[RoleOwner]; exists {
		return nil
	}
	if err := r.kv.Set(roleKey(RoleOwner), addr.Bytes()); err != nil {
		return err
	}
	r.roles[RoleOwner] = addr
	return nil
}

// TransferOwnership hands the owner role to a new address.
func (r *Registry) TransferOwnership(caller, newOwner common.Address) error {
	if newOwner == (common.Address{}) {
		return ErrInvalidAddress
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.roles[RoleOwner]
	if caller != prev {
		return ErrUnauthorized
	}

	ev := events.OwnershipTransferred{Previous: prev, Current: newOwner}
	if err := r.commit(roleKey(RoleOwner), newOwner.Bytes(), events.TypeOwnershipTransferred, ev); err != nil {
		return err
	}
	r.roles[RoleOwner] = newOwner
	return nil
}

// SetProtocolAddress updates the treasury or aggregator role holder.
func (r *Registry) SetProtocolAddress(caller common.Address, role string, addr common.Address) error {
	if role != RoleTreasury && role != RoleAggregator {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if addr == (common.Address{}) {
		return ErrInvalidAddress
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.roles[RoleOwner] {
		return ErrUnauthorized
	}

	ev := events.ProtocolAddressUpdated{Role: role, Address: addr}
	if err := r.commit(roleKey(role), addr.Bytes(), events.TypeProtocolAddressUpdated, ev); err != nil {
		return err
	}
	r.roles[role] = addr
	return nil
}

// ProtocolAddress returns the current holder of a role, zero if unset.
func (r *Registry) ProtocolAddress(role string) common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[role]
}

// SetInstitution adds or replaces a supported institution.
func (r *Registry) SetInstitution(caller common.Address, inst Institution) error {
	if inst.Code == "" {
		return fmt.Errorf("empty institution code")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.roles[RoleOwner] {
		return ErrUnauthorized
	}

	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to marshal institution: %w", err)
	}

	ev := events.InstitutionUpdated{Code: inst.Code, Name: inst.Name, Currency: inst.Currency}
	if err := r.commit(institutionKey(inst.Code), data, events.TypeInstitutionUpdated, ev); err != nil {
		return err
	}
	r.institutions[inst.Code] = inst
	return nil
}

// RemoveInstitution drops a supported institution. Existing orders keep their
// recorded code; only future creations are affected.
func (r *Registry) RemoveInstitution(caller common.Address, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.roles[RoleOwner] {
		return ErrUnauthorized
	}

	b := r.kv.NewBatch()
	defer b.Close()
	if err := b.Delete(institutionKey(code)); err != nil {
		return err
	}
	at := r.clock.Now().UnixMilli()
	ev := events.InstitutionRemoved{Code: code}
	data, _ := json.Marshal(ev)
	if _, err := r.kv.AppendEvent(b, events.TypeInstitutionRemoved, at, data); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return err
	}

	delete(r.institutions, code)
	r.publish(events.TypeInstitutionRemoved, at, ev)
	return nil
}

// Institution looks up a supported institution by code.
func (r *Registry) Institution(code string) (Institution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.institutions[code]
	return inst, ok
}

// Institutions returns a snapshot of every supported institution.
func (r *Registry) Institutions() []Institution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Institution, 0, len(r.institutions))
	for _, inst := range r.institutions {
		out = append(out, inst)
	}
	return out
}

// SetSenderAllowed toggles an address's permission to create orders and
// emits SettingManagerBool(whitelist, addr, allowed).
func (r *Registry) SetSenderAllowed(caller, addr common.Address, allowed bool) error {
	if addr == (common.Address{}) {
		return ErrInvalidAddress
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.roles[RoleOwner] {
		return ErrUnauthorized
	}

	val := []byte{0}
	if allowed {
		val[0] = 1
	}

	ev := events.SettingManagerBool{Setting: SenderAllowedSetting, Target: addr, Value: allowed}
	if err := r.commit(allowedKey(addr), val, events.TypeSettingManagerBool, ev); err != nil {
		return err
	}
	if allowed {
		r.allowed[addr] = true
	} else {
		delete(r.allowed, addr)
	}
	return nil
}

// IsSenderAllowed reports whether an address may create orders.
func (r *Registry) IsSenderAllowed(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allowed[addr]
}

// commit writes one entry plus its journal record atomically, then publishes
// to the bus. Caller holds r.mu.
func (r *Registry) commit(key, val []byte, evType string, ev interface{}) error {
	b := r.kv.NewBatch()
	defer b.Close()

	if err := b.Set(key, val); err != nil {
		return err
	}
	at := r.clock.Now().UnixMilli()
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := r.kv.AppendEvent(b, evType, at, data); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return err
	}

	r.publish(evType, at, ev)
	return nil
}

func (r *Registry) publish(evType string, at int64, ev interface{}) {
	if r.bus != nil {
		r.bus.Publish(events.Event{Type: evType, At: at, Data: ev})
	}
}
