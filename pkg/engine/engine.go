package engine

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Atanda1/offramp/pkg/engine/escrow"
	"github.com/Atanda1/offramp/pkg/engine/events"
	"github.com/Atanda1/offramp/pkg/engine/order"
	"github.com/Atanda1/offramp/pkg/engine/registry"
	"github.com/Atanda1/offramp/pkg/storage"
	"github.com/Atanda1/offramp/pkg/token"
	"github.com/Atanda1/offramp/pkg/util"
)

// MaxBPS is the basis-point whole for settlement splits.
const MaxBPS = order.MaxBPS

// Config carries the protocol parameters the engine needs.
type Config struct {
	// FeeBPS is the protocol fee taken from every settled tranche, in basis
	// points of MaxBPS.
	FeeBPS uint64
}

// Engine is the escrow-and-settlement state machine. One mutex serializes
// every mutation, and each mutation stages all of its writes (order record,
// creator nonce, ledger balances, journal entry) into a single batch, so an
// operation either fully applies or leaves no trace. Effects are totally
// ordered as if executed by a single global sequencer.
type Engine struct {
	mu sync.Mutex

	kv     *storage.Store
	orders *order.Store
	reg    *registry.Registry
	ledger *token.Ledger
	vault  *escrow.Vault
	bus    *events.Bus
	clock  util.Clock
	log    *zap.SugaredLogger

	feeBPS uint64
}

func New(cfg Config, kv *storage.Store, reg *registry.Registry, ledger *token.Ledger,
	vault *escrow.Vault, bus *events.Bus, clock util.Clock, log *zap.SugaredLogger) *Engine {
	return &Engine{
		kv:     kv,
		orders: order.NewStore(kv),
		reg:    reg,
		ledger: ledger,
		vault:  vault,
		bus:    bus,
		clock:  clock,
		log:    log,
		feeBPS: cfg.FeeBPS,
	}
}

// CreateOrderParams are the caller-supplied inputs to order creation.
type CreateOrderParams struct {
	Token              common.Address
	Amount             *big.Int
	InstitutionCode    string
	Label              string
	Rate               decimal.Decimal
	SenderFeeRecipient common.Address
	SenderFee          *big.Int
	RefundAddress      common.Address
	MessageHash        string
}

// CreateOrder escrows the caller's funds and records a new order. The order
// ID is derived from (caller, next creator nonce); replaying identical
// arguments yields a fresh order under a fresh ID. Emits Deposit.
func (e *Engine) CreateOrder(caller common.Address, p CreateOrderParams) (common.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return common.Hash{}, ErrInvalidAmount
	}
	senderFee := p.SenderFee
	if senderFee == nil {
		senderFee = new(big.Int)
	}
	if senderFee.Sign() < 0 || senderFee.Cmp(p.Amount) >= 0 {
		return common.Hash{}, fmt.Errorf("%w: sender fee %s must stay below amount %s",
			ErrInvalidAmount, senderFee, p.Amount)
	}
	if p.Token == (common.Address{}) || p.RefundAddress == (common.Address{}) {
		return common.Hash{}, ErrInvalidAddress
	}
	if senderFee.Sign() > 0 && p.SenderFeeRecipient == (common.Address{}) {
		return common.Hash{}, ErrInvalidAddress
	}
	if !e.reg.IsSenderAllowed(caller) {
		return common.Hash{}, ErrSenderNotAllowed
	}
	if _, ok := e.reg.Institution(p.InstitutionCode); !ok {
		return common.Hash{}, fmt.Errorf("%w: %q", ErrUnsupportedInstitution, p.InstitutionCode)
	}

	nonce, err := e.orders.CreatorNonce(caller)
	if err != nil {
		return common.Hash{}, err
	}
	nonce++
	id := order.DeriveID(caller, nonce)

	b := e.kv.NewBatch()
	defer b.Close()

	tx := e.ledger.Begin(b)
	if err := e.vault.Deposit(tx, p.Token, caller, p.Amount); err != nil {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrTransferFailed, err)
	}

	now := e.clock.Now().UnixMilli()
	o := order.New(caller, p.Token, p.SenderFeeRecipient, p.RefundAddress,
		p.Amount, senderFee, p.Rate, p.InstitutionCode, p.Label, p.MessageHash, now)

	if err := e.orders.Stage(b, id, o); err != nil {
		return common.Hash{}, err
	}
	if err := e.orders.StageCreatorNonce(b, caller, nonce); err != nil {
		return common.Hash{}, err
	}

	ev := events.Deposit{
		Token:           p.Token,
		Amount:          o.Amount,
		OrderID:         id,
		Rate:            p.Rate,
		InstitutionCode: p.InstitutionCode,
		Label:           p.Label,
		MessageHash:     p.MessageHash,
	}
	if err := e.stageEvent(b, events.TypeDeposit, now, ev); err != nil {
		return common.Hash{}, err
	}
	if err := b.Commit(); err != nil {
		return common.Hash{}, err
	}

	e.publish(events.TypeDeposit, now, ev)
	e.log.Infow("order_created",
		"order_id", id.Hex(),
		"seller", caller.Hex(),
		"token", p.Token.Hex(),
		"amount", p.Amount.String(),
		"institution", p.InstitutionCode,
		"nonce", nonce,
	)
	return id, nil
}

// Settle disburses one tranche of an order: the liquidity provider receives
// the settled portion net of the protocol fee, the treasury receives the fee
// (or the provider keeps it when isPartner is set), and the sender fee
// recipient receives its proportional cut. Only the aggregator may settle.
// Emits Settled.
func (e *Engine) Settle(caller common.Address, orderID, splitID common.Hash, label string,
	liquidityProvider common.Address, settleBPS uint64, isPartner bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.reg.ProtocolAddress(registry.RoleAggregator) || caller == (common.Address{}) {
		return ErrUnauthorized
	}
	if liquidityProvider == (common.Address{}) {
		return ErrInvalidAddress
	}

	o, err := e.orders.Get(orderID)
	if err != nil {
		return err
	}
	if o == nil {
		return ErrOrderNotFound
	}
	if o.IsFulfilled {
		return ErrOrderAlreadySettled
	}
	if settleBPS == 0 || settleBPS > o.CurrentBPS {
		return fmt.Errorf("%w: settleBPS %d, remaining %d", ErrInvalidBPS, settleBPS, o.CurrentBPS)
	}

	treasury := e.reg.ProtocolAddress(registry.RoleTreasury)
	if !isPartner && treasury == (common.Address{}) {
		return ErrInvalidAddress
	}

	split := computeSplit(o, settleBPS, e.feeBPS)

	b := e.kv.NewBatch()
	defer b.Close()

	tx := e.ledger.Begin(b)
	if isPartner {
		// Partner settlements route the protocol fee to the provider.
		if err := e.vault.Disburse(tx, o.Token, liquidityProvider, split.Payout); err != nil {
			return fmt.Errorf("%w: %s", ErrTransferFailed, err)
		}
	} else {
		if err := e.vault.Disburse(tx, o.Token, liquidityProvider, split.Liquidity); err != nil {
			return fmt.Errorf("%w: %s", ErrTransferFailed, err)
		}
		if err := e.vault.Disburse(tx, o.Token, treasury, split.ProtocolFee); err != nil {
			return fmt.Errorf("%w: %s", ErrTransferFailed, err)
		}
	}
	if split.SenderFee.Sign() > 0 {
		if err := e.vault.Disburse(tx, o.Token, o.SenderFeeRecipient, split.SenderFee); err != nil {
			return fmt.Errorf("%w: %s", ErrTransferFailed, err)
		}
	}

	o.CurrentBPS -= settleBPS
	o.EscrowLeft.Sub(o.EscrowLeft, new(big.Int).Add(split.Payout, split.SenderFee))
	o.SenderFeeLeft.Sub(o.SenderFeeLeft, split.SenderFee)
	if o.CurrentBPS == 0 {
		o.IsFulfilled = true
	}
	if err := o.Validate(); err != nil {
		return fmt.Errorf("settlement broke order invariants: %w", err)
	}
	if err := e.orders.Stage(b, orderID, o); err != nil {
		return err
	}

	now := e.clock.Now().UnixMilli()
	ev := events.Settled{
		OrderID:           orderID,
		SplitID:           splitID,
		Label:             label,
		LiquidityProvider: liquidityProvider,
		SettleBPS:         settleBPS,
	}
	if err := e.stageEvent(b, events.TypeSettled, now, ev); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return err
	}

	e.publish(events.TypeSettled, now, ev)
	e.log.Infow("order_settled",
		"order_id", orderID.Hex(),
		"split_id", splitID.Hex(),
		"liquidity_provider", liquidityProvider.Hex(),
		"settle_bps", settleBPS,
		"payout", split.Payout.String(),
		"protocol_fee", split.ProtocolFee.String(),
		"is_partner", isPartner,
		"fulfilled", o.IsFulfilled,
	)
	return nil
}

// Refund returns the order's entire remaining escrow to its refund address
// and closes the order. Gated to the aggregator or the owner. Emits Refunded.
func (e *Engine) Refund(caller common.Address, orderID common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller == (common.Address{}) ||
		(caller != e.reg.ProtocolAddress(registry.RoleAggregator) && caller != e.reg.Owner()) {
		return ErrUnauthorized
	}

	o, err := e.orders.Get(orderID)
	if err != nil {
		return err
	}
	if o == nil {
		return ErrOrderNotFound
	}
	if o.IsFulfilled {
		return ErrOrderAlreadySettled
	}

	refund := new(big.Int).Set(o.EscrowLeft)

	b := e.kv.NewBatch()
	defer b.Close()

	tx := e.ledger.Begin(b)
	if refund.Sign() > 0 {
		if err := e.vault.Disburse(tx, o.Token, o.RefundAddress, refund); err != nil {
			return fmt.Errorf("%w: %s", ErrTransferFailed, err)
		}
	}

	o.CurrentBPS = 0
	o.IsFulfilled = true
	o.EscrowLeft.SetUint64(0)
	o.SenderFeeLeft.SetUint64(0)
	if err := e.orders.Stage(b, orderID, o); err != nil {
		return err
	}

	now := e.clock.Now().UnixMilli()
	ev := events.Refunded{OrderID: orderID, RefundAddress: o.RefundAddress, Amount: refund}
	if err := e.stageEvent(b, events.TypeRefunded, now, ev); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return err
	}

	e.publish(events.TypeRefunded, now, ev)
	e.log.Infow("order_refunded",
		"order_id", orderID.Hex(),
		"refund_address", o.RefundAddress.Hex(),
		"amount", refund.String(),
	)
	return nil
}

// GetOrderInfo returns the stored order record, or the zero-value record for
// unknown IDs. Callers that need a hard not-found signal use Exists on the
// result (the REST layer maps it to 404).
func (e *Engine) GetOrderInfo(orderID common.Hash) (order.Order, error) {
	o, err := e.orders.Get(orderID)
	if err != nil {
		return order.Zero(), err
	}
	if o == nil {
		return order.Zero(), nil
	}
	return *o, nil
}

// Split is the fund routing of one settlement tranche. Liquidity+ProtocolFee
// always equals Payout exactly; SenderFee is carved out before the split.
type Split struct {
	Payout      *big.Int // settled principal portion (liquidity + protocol fee)
	ProtocolFee *big.Int
	Liquidity   *big.Int
	SenderFee   *big.Int // sender fee portion released with this tranche
}

// computeSplit applies the basis-point math for one tranche. Floor division
// throughout; the subtraction form credits every remainder to the liquidity
// share. The tranche that exhausts the order sweeps the exact remaining
// custody instead, so cumulative disbursements equal the escrowed amount
// with no stranded dust.
func computeSplit(o *order.Order, settleBPS, feeBPS uint64) Split {
	var payout, senderFee *big.Int
	if settleBPS == o.CurrentBPS {
		senderFee = new(big.Int).Set(o.SenderFeeLeft)
		payout = new(big.Int).Sub(o.EscrowLeft, senderFee)
	} else {
		payout = bpsShare(o.Principal(), settleBPS)
		senderFee = bpsShare(o.SenderFee, settleBPS)
	}

	protocolFee := bpsShare(payout, feeBPS)
	liquidity := new(big.Int).Sub(payout, protocolFee)

	return Split{
		Payout:      payout,
		ProtocolFee: protocolFee,
		Liquidity:   liquidity,
		SenderFee:   senderFee,
	}
}

// bpsShare returns amount * bps / MaxBPS, floored.
func bpsShare(amount *big.Int, bps uint64) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, new(big.Int).SetUint64(MaxBPS))
}

func (e *Engine) stageEvent(b *storage.Batch, typ string, at int64, ev interface{}) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", typ, err)
	}
	_, err = e.kv.AppendEvent(b, typ, at, data)
	return err
}

func (e *Engine) publish(typ string, at int64, ev interface{}) {
	if e.bus != nil {
		e.bus.Publish(events.Event{Type: typ, At: at, Data: ev})
	}
}
