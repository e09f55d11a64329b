package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP-712 typed-data hashing for API requests. Every mutating call arrives
// signed; the server recovers the caller identity from the signature and the
// engine enforces roles against it. The request nonce is a strictly
// increasing per-caller counter giving replay protection.

// Domain scopes signatures to one deployment.
type Domain struct {
	Name    string
	Version string
	ChainID *big.Int
}

// RequestSigner hashes protocol requests for signing and verification.
type RequestSigner struct {
	domain Domain
}

func NewRequestSigner(domain Domain) *RequestSigner {
	return &RequestSigner{domain: domain}
}

// CreateOrderRequest is the typed payload for order creation.
type CreateOrderRequest struct {
	Token              common.Address
	Amount             *big.Int
	InstitutionCode    string
	Label              string
	Rate               string // decimal string, hashed verbatim
	SenderFeeRecipient common.Address
	SenderFee          *big.Int
	RefundAddress      common.Address
	MessageHash        string
	Nonce              *big.Int
	Sender             common.Address
}

// SettleRequest is the typed payload for a settlement tranche.
type SettleRequest struct {
	OrderID           common.Hash
	SplitID           common.Hash
	Label             string
	LiquidityProvider common.Address
	SettleBPS         *big.Int
	IsPartner         bool
	Nonce             *big.Int
	Caller            common.Address
}

// RefundRequest is the typed payload for a refund.
type RefundRequest struct {
	OrderID common.Hash
	Nonce   *big.Int
	Caller  common.Address
}

// AdminRequest is the typed payload for owner operations. Action selects the
// operation; Payload carries any structured arguments as canonical JSON.
type AdminRequest struct {
	Action  string
	Key     string
	Target  common.Address
	Flag    bool
	Payload string
	Nonce   *big.Int
	Caller  common.Address
}

// ApproveRequest is the typed payload for a ledger allowance grant.
type ApproveRequest struct {
	Token   common.Address
	Spender common.Address
	Amount  *big.Int
	Nonce   *big.Int
	Owner   common.Address
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
}

func (r *RequestSigner) hash(primary string, fields []apitypes.Type, message apitypes.TypedDataMessage) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primary:        fields,
		},
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:    r.domain.Name,
			Version: r.domain.Version,
			ChainId: (*math.HexOrDecimal256)(r.domain.ChainID),
		},
		Message: message,
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(primary, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s message: %w", primary, err)
	}

	// digest = keccak256("\x19\x01" || domainSeparator || messageHash)
	raw := make([]byte, 0, 2+len(domainSeparator)+len(messageHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}

// HashCreateOrder returns the signing digest of a create-order request.
func (r *RequestSigner) HashCreateOrder(req *CreateOrderRequest) ([]byte, error) {
	return r.hash("CreateOrder", []apitypes.Type{
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "institutionCode", Type: "string"},
		{Name: "label", Type: "string"},
		{Name: "rate", Type: "string"},
		{Name: "senderFeeRecipient", Type: "address"},
		{Name: "senderFee", Type: "uint256"},
		{Name: "refundAddress", Type: "address"},
		{Name: "messageHash", Type: "string"},
		{Name: "nonce", Type: "uint256"},
		{Name: "sender", Type: "address"},
	}, apitypes.TypedDataMessage{
		"token":              req.Token.Hex(),
		"amount":             req.Amount.String(),
		"institutionCode":    req.InstitutionCode,
		"label":              req.Label,
		"rate":               req.Rate,
		"senderFeeRecipient": req.SenderFeeRecipient.Hex(),
		"senderFee":          req.SenderFee.String(),
		"refundAddress":      req.RefundAddress.Hex(),
		"messageHash":        req.MessageHash,
		"nonce":              req.Nonce.String(),
		"sender":             req.Sender.Hex(),
	})
}

// HashSettle returns the signing digest of a settle request.
func (r *RequestSigner) HashSettle(req *SettleRequest) ([]byte, error) {
	return r.hash("Settle", []apitypes.Type{
		{Name: "orderId", Type: "bytes32"},
		{Name: "splitId", Type: "bytes32"},
		{Name: "label", Type: "string"},
		{Name: "liquidityProvider", Type: "address"},
		{Name: "settleBPS", Type: "uint256"},
		{Name: "isPartner", Type: "bool"},
		{Name: "nonce", Type: "uint256"},
		{Name: "caller", Type: "address"},
	}, apitypes.TypedDataMessage{
		"orderId":           req.OrderID.Hex(),
		"splitId":           req.SplitID.Hex(),
		"label":             req.Label,
		"liquidityProvider": req.LiquidityProvider.Hex(),
		"settleBPS":         req.SettleBPS.String(),
		"isPartner":         req.IsPartner,
		"nonce":             req.Nonce.String(),
		"caller":            req.Caller.Hex(),
	})
}

// HashRefund returns the signing digest of a refund request.
func (r *RequestSigner) HashRefund(req *RefundRequest) ([]byte, error) {
	return r.hash("Refund", []apitypes.Type{
		{Name: "orderId", Type: "bytes32"},
		{Name: "nonce", Type: "uint256"},
		{Name: "caller", Type: "address"},
	}, apitypes.TypedDataMessage{
		"orderId": req.OrderID.Hex(),
		"nonce":   req.Nonce.String(),
		"caller":  req.Caller.Hex(),
	})
}

// HashAdmin returns the signing digest of an owner operation.
func (r *RequestSigner) HashAdmin(req *AdminRequest) ([]byte, error) {
	return r.hash("Admin", []apitypes.Type{
		{Name: "action", Type: "string"},
		{Name: "key", Type: "string"},
		{Name: "target", Type: "address"},
		{Name: "flag", Type: "bool"},
		{Name: "payload", Type: "string"},
		{Name: "nonce", Type: "uint256"},
		{Name: "caller", Type: "address"},
	}, apitypes.TypedDataMessage{
		"action":  req.Action,
		"key":     req.Key,
		"target":  req.Target.Hex(),
		"flag":    req.Flag,
		"payload": req.Payload,
		"nonce":   req.Nonce.String(),
		"caller":  req.Caller.Hex(),
	})
}

// HashApprove returns the signing digest of an allowance grant.
func (r *RequestSigner) HashApprove(req *ApproveRequest) ([]byte, error) {
	return r.hash("Approve", []apitypes.Type{
		{Name: "token", Type: "address"},
		{Name: "spender", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}, apitypes.TypedDataMessage{
		"token":   req.Token.Hex(),
		"spender": req.Spender.Hex(),
		"amount":  req.Amount.String(),
		"nonce":   req.Nonce.String(),
		"owner":   req.Owner.Hex(),
	})
}
