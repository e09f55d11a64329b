package api

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Wire types for the REST API. Amounts travel as base-10 strings (uint256
// range), addresses and hashes as 0x-hex, signatures as 0x-hex 65 bytes.

type CreateOrderDTO struct {
	Token              string `json:"token"`
	Amount             string `json:"amount"`
	InstitutionCode    string `json:"institutionCode"`
	Label              string `json:"label"`
	Rate               string `json:"rate"`
	SenderFeeRecipient string `json:"senderFeeRecipient"`
	SenderFee          string `json:"senderFee"`
	RefundAddress      string `json:"refundAddress"`
	MessageHash        string `json:"messageHash"`
	Sender             string `json:"sender"`
	Nonce              uint64 `json:"nonce"`
	Signature          string `json:"signature"`
}

type SettleDTO struct {
	OrderID           string `json:"orderId"`
	SplitID           string `json:"splitId"`
	Label             string `json:"label"`
	LiquidityProvider string `json:"liquidityProvider"`
	SettleBPS         uint64 `json:"settleBPS"`
	IsPartner         bool   `json:"isPartner"`
	Caller            string `json:"caller"`
	Nonce             uint64 `json:"nonce"`
	Signature         string `json:"signature"`
}

type RefundDTO struct {
	OrderID   string `json:"orderId"`
	Caller    string `json:"caller"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

// AdminDTO carries every owner operation; Action selects it.
// Actions: setInstitution, removeInstitution, setProtocolAddress,
// setSenderAllowed, transferOwnership, mint.
type AdminDTO struct {
	Action    string `json:"action"`
	Key       string `json:"key"`
	Target    string `json:"target"`
	Flag      bool   `json:"flag"`
	Payload   string `json:"payload"`
	Caller    string `json:"caller"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

type ApproveDTO struct {
	Token     string `json:"token"`
	Spender   string `json:"spender"`
	Amount    string `json:"amount"`
	Owner     string `json:"owner"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

// InstitutionPayload is AdminDTO.Payload for setInstitution.
type InstitutionPayload struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

// MintPayload is AdminDTO.Payload for mint.
type MintPayload struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// OrderInfo is the audit tuple plus progress fields.
type OrderInfo struct {
	Seller             string `json:"seller"`
	Token              string `json:"token"`
	SenderFeeRecipient string `json:"senderFeeRecipient"`
	SenderFee          string `json:"senderFee"`
	Rate               string `json:"rate"`
	IsFulfilled        bool   `json:"isFulfilled"`
	RefundAddress      string `json:"refundAddress"`
	CurrentBPS         uint64 `json:"currentBPS"`
	Amount             string `json:"amount"`
	InstitutionCode    string `json:"institutionCode"`
	Label              string `json:"label"`
	MessageHash        string `json:"messageHash"`
	CreatedAt          int64  `json:"createdAt"`
}

type CreateOrderResponse struct {
	OrderID string `json:"orderId"`
}

type BalanceResponse struct {
	Token   string `json:"token"`
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address in %s: %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func parseHash(field, s string) (common.Hash, error) {
	if len(s) != 66 || s[:2] != "0x" {
		return common.Hash{}, fmt.Errorf("invalid hash in %s: %q", field, s)
	}
	return common.HexToHash(s), nil
}

// parseAmount parses a non-negative base-10 amount.
func parseAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount in %s: %q", field, s)
	}
	return v, nil
}
