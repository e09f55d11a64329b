package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Event type names as they appear in the journal and on the websocket stream.
const (
	TypeDeposit                = "Deposit"
	TypeSettled                = "Settled"
	TypeRefunded               = "Refunded"
	TypeSettingManagerBool     = "SettingManagerBool"
	TypeProtocolAddressUpdated = "ProtocolAddressUpdated"
	TypeInstitutionUpdated     = "InstitutionUpdated"
	TypeInstitutionRemoved     = "InstitutionRemoved"
	TypeOwnershipTransferred   = "OwnershipTransferred"
)

// Deposit is emitted when an order is created and its funds escrowed.
// MessageHash is the caller's opaque payment-instruction blob, verbatim.
type Deposit struct {
	Token           common.Address  `json:"token"`
	Amount          *big.Int        `json:"amount"`
	OrderID         common.Hash     `json:"orderId"`
	Rate            decimal.Decimal `json:"rate"`
	InstitutionCode string          `json:"institutionCode"`
	Label           string          `json:"label"`
	MessageHash     string          `json:"messageHash"`
}

// Settled is emitted for every settlement tranche.
type Settled struct {
	OrderID           common.Hash    `json:"orderId"`
	SplitID           common.Hash    `json:"splitId"`
	Label             string         `json:"label"`
	LiquidityProvider common.Address `json:"liquidityProvider"`
	SettleBPS         uint64         `json:"settleBPS"`
}

// Refunded is emitted when remaining escrow returns to the refund address.
type Refunded struct {
	OrderID       common.Hash    `json:"orderId"`
	RefundAddress common.Address `json:"refundAddress"`
	Amount        *big.Int       `json:"amount"`
}

// SettingManagerBool mirrors the registry's boolean-setting notifications.
type SettingManagerBool struct {
	Setting string         `json:"setting"`
	Target  common.Address `json:"target"`
	Value   bool           `json:"value"`
}

type ProtocolAddressUpdated struct {
	Role    string         `json:"role"`
	Address common.Address `json:"address"`
}

type InstitutionUpdated struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

type InstitutionRemoved struct {
	Code string `json:"code"`
}

type OwnershipTransferred struct {
	Previous common.Address `json:"previous"`
	Current  common.Address `json:"current"`
}

// Event is the envelope handed to subscribers.
type Event struct {
	Type string      `json:"type"`
	At   int64       `json:"at"` // unix milliseconds
	Data interface{} `json:"data"`
}
