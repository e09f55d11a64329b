package order

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// MaxBPS is the basis-point whole: a freshly created order is 100% settleable.
const MaxBPS = uint64(10_000)

// Order is one escrowed payment request. The first nine fields are the
// audit tuple returned by order queries, in wire order. Principal fields are
// immutable after creation; only the fulfillment latch, CurrentBPS, and the
// remaining-custody trackers change, exactly once per settlement tranche.
type Order struct {
	Seller             common.Address  `json:"seller"`
	Token              common.Address  `json:"token"`
	SenderFeeRecipient common.Address  `json:"senderFeeRecipient"`
	SenderFee          *big.Int        `json:"senderFee"`
	Rate               decimal.Decimal `json:"rate"`
	IsFulfilled        bool            `json:"isFulfilled"`
	RefundAddress      common.Address  `json:"refundAddress"`
	CurrentBPS         uint64          `json:"currentBPS"`
	Amount             *big.Int        `json:"amount"`

	// Carried for the event stream and audit queries.
	InstitutionCode string `json:"institutionCode"`
	Label           string `json:"label"`
	MessageHash     string `json:"messageHash"` // opaque caller-supplied blob, never interpreted
	CreatedAt       int64  `json:"createdAt"`   // unix milliseconds

	// Remaining custody for this order. EscrowLeft starts at Amount and
	// SenderFeeLeft at SenderFee; both reach zero exactly when the order
	// becomes fulfilled, so no dust ever strands in the vault.
	EscrowLeft    *big.Int `json:"escrowLeft"`
	SenderFeeLeft *big.Int `json:"senderFeeLeft"`
}

// New builds a fresh order with full settleable basis points and custody
// trackers initialized from the principal fields.
func New(seller, token, feeRecipient, refundAddr common.Address, amount, senderFee *big.Int,
	rate decimal.Decimal, institutionCode, label, messageHash string, createdAt int64) *Order {
	return &Order{
		Seller:             seller,
		Token:              token,
		SenderFeeRecipient: feeRecipient,
		SenderFee:          new(big.Int).Set(senderFee),
		Rate:               rate,
		IsFulfilled:        false,
		RefundAddress:      refundAddr,
		CurrentBPS:         MaxBPS,
		Amount:             new(big.Int).Set(amount),
		InstitutionCode:    institutionCode,
		Label:              label,
		MessageHash:        messageHash,
		CreatedAt:          createdAt,
		EscrowLeft:         new(big.Int).Set(amount),
		SenderFeeLeft:      new(big.Int).Set(senderFee),
	}
}

// Zero returns the all-zero record handed out for unknown order IDs.
func Zero() Order {
	return Order{
		SenderFee:     new(big.Int),
		Amount:        new(big.Int),
		EscrowLeft:    new(big.Int),
		SenderFeeLeft: new(big.Int),
	}
}

// Exists reports whether the record is a real stored order rather than the
// zero record: every created order has a non-zero seller and positive amount.
func (o *Order) Exists() bool {
	return o.Seller != (common.Address{}) && o.Amount != nil && o.Amount.Sign() > 0
}

// Principal is the settleable base: escrowed amount net of the sender fee.
func (o *Order) Principal() *big.Int {
	return new(big.Int).Sub(o.Amount, o.SenderFee)
}

// Validate checks record invariants.
func (o *Order) Validate() error {
	if o.Amount == nil || o.Amount.Sign() <= 0 {
		return fmt.Errorf("non-positive amount")
	}
	if o.SenderFee == nil || o.SenderFee.Sign() < 0 {
		return fmt.Errorf("negative sender fee")
	}
	if o.SenderFee.Cmp(o.Amount) >= 0 {
		return fmt.Errorf("sender fee %s not below amount %s", o.SenderFee, o.Amount)
	}
	if o.CurrentBPS > MaxBPS {
		return fmt.Errorf("currentBPS %d exceeds %d", o.CurrentBPS, MaxBPS)
	}
	if o.EscrowLeft == nil || o.EscrowLeft.Sign() < 0 {
		return fmt.Errorf("negative remaining escrow")
	}
	if o.EscrowLeft.Cmp(o.Amount) > 0 {
		return fmt.Errorf("remaining escrow %s exceeds amount %s", o.EscrowLeft, o.Amount)
	}
	if o.IsFulfilled && o.EscrowLeft.Sign() != 0 {
		return fmt.Errorf("fulfilled order still holds %s in escrow", o.EscrowLeft)
	}
	if o.CurrentBPS == 0 && !o.IsFulfilled {
		return fmt.Errorf("exhausted order not marked fulfilled")
	}
	return nil
}
