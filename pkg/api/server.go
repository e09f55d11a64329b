package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Atanda1/offramp/pkg/crypto"
	"github.com/Atanda1/offramp/pkg/engine"
	"github.com/Atanda1/offramp/pkg/engine/events"
	"github.com/Atanda1/offramp/pkg/engine/registry"
	"github.com/Atanda1/offramp/pkg/storage"
	"github.com/Atanda1/offramp/pkg/token"
)

// Server exposes the engine over REST plus a websocket event stream. Every
// mutating route carries an EIP-712 signature; the recovered address is the
// caller identity handed to the engine, which enforces roles against it.
type Server struct {
	eng    *engine.Engine
	reg    *registry.Registry
	ledger *token.Ledger
	kv     *storage.Store
	auth   *Auth
	signer *crypto.RequestSigner
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

func NewServer(eng *engine.Engine, reg *registry.Registry, ledger *token.Ledger,
	kv *storage.Store, signer *crypto.RequestSigner, log *zap.SugaredLogger) *Server {
	s := &Server{
		eng:    eng,
		reg:    reg,
		ledger: ledger,
		kv:     kv,
		auth:   NewAuth(signer, kv),
		signer: signer,
		router: mux.NewRouter(),
		hub:    NewHub(),
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Order lifecycle
	api.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	api.HandleFunc("/orders/settle", s.handleSettle).Methods("POST")
	api.HandleFunc("/orders/refund", s.handleRefund).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")

	// Registry
	api.HandleFunc("/registry/institutions", s.handleGetInstitutions).Methods("GET")
	api.HandleFunc("/admin", s.handleAdmin).Methods("POST")

	// Token ledger
	api.HandleFunc("/tokens/approve", s.handleApprove).Methods("POST")
	api.HandleFunc("/tokens/{token}/balances/{address}", s.handleGetBalance).Methods("GET")

	// Audit
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")
	api.HandleFunc("/nonces/{address}", s.handleGetNonce).Methods("GET")

	s.router.HandleFunc("/ws", s.hub.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the hub, the bus relay, and the HTTP listener. Blocks.
func (s *Server) Start(addr string, busEvents <-chan events.Event) error {
	go s.hub.Run()
	go s.hub.Relay(busEvents)

	c := cors.New(cors.Options{
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	s.log.Infow("api_listening", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var dto CreateOrderDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tok, err := parseAddress("token", dto.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount("amount", dto.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	senderFee, err := parseAmount("senderFee", dto.SenderFee)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	feeRecipient := common.Address{}
	if dto.SenderFeeRecipient != "" {
		if feeRecipient, err = parseAddress("senderFeeRecipient", dto.SenderFeeRecipient); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	refundAddr, err := parseAddress("refundAddress", dto.RefundAddress)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sender, err := parseAddress("sender", dto.Sender)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rate, err := decimal.NewFromString(dto.Rate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	digest, err := s.signer.HashCreateOrder(&crypto.CreateOrderRequest{
		Token:              tok,
		Amount:             amount,
		InstitutionCode:    dto.InstitutionCode,
		Label:              dto.Label,
		Rate:               dto.Rate,
		SenderFeeRecipient: feeRecipient,
		SenderFee:          senderFee,
		RefundAddress:      refundAddr,
		MessageHash:        dto.MessageHash,
		Nonce:              bigU64(dto.Nonce),
		Sender:             sender,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := s.auth.VerifyDigest(digest, dto.Signature, sender, dto.Nonce)
	if err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}

	id, err := s.eng.CreateOrder(caller, engine.CreateOrderParams{
		Token:              tok,
		Amount:             amount,
		InstitutionCode:    dto.InstitutionCode,
		Label:              dto.Label,
		Rate:               rate,
		SenderFeeRecipient: feeRecipient,
		SenderFee:          senderFee,
		RefundAddress:      refundAddr,
		MessageHash:        dto.MessageHash,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateOrderResponse{OrderID: id.Hex()})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var dto SettleDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	orderID, err := parseHash("orderId", dto.OrderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	splitID, err := parseHash("splitId", dto.SplitID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	lp, err := parseAddress("liquidityProvider", dto.LiquidityProvider)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress("caller", dto.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	digest, err := s.signer.HashSettle(&crypto.SettleRequest{
		OrderID:           orderID,
		SplitID:           splitID,
		Label:             dto.Label,
		LiquidityProvider: lp,
		SettleBPS:         bigU64(dto.SettleBPS),
		IsPartner:         dto.IsPartner,
		Nonce:             bigU64(dto.Nonce),
		Caller:            caller,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.auth.VerifyDigest(digest, dto.Signature, caller, dto.Nonce); err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}

	if err := s.eng.Settle(caller, orderID, splitID, dto.Label, lp, dto.SettleBPS, dto.IsPartner); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var dto RefundDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	orderID, err := parseHash("orderId", dto.OrderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress("caller", dto.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	digest, err := s.signer.HashRefund(&crypto.RefundRequest{
		OrderID: orderID,
		Nonce:   bigU64(dto.Nonce),
		Caller:  caller,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.auth.VerifyDigest(digest, dto.Signature, caller, dto.Nonce); err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}

	if err := s.eng.Refund(caller, orderID); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refunded"})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	idHex := mux.Vars(r)["id"]
	id, err := parseHash("id", idHex)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	o, err := s.eng.GetOrderInfo(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !o.Exists() {
		writeError(w, http.StatusNotFound, engine.ErrOrderNotFound)
		return
	}

	writeJSON(w, http.StatusOK, OrderInfo{
		Seller:             o.Seller.Hex(),
		Token:              o.Token.Hex(),
		SenderFeeRecipient: o.SenderFeeRecipient.Hex(),
		SenderFee:          o.SenderFee.String(),
		Rate:               o.Rate.String(),
		IsFulfilled:        o.IsFulfilled,
		RefundAddress:      o.RefundAddress.Hex(),
		CurrentBPS:         o.CurrentBPS,
		Amount:             o.Amount.String(),
		InstitutionCode:    o.InstitutionCode,
		Label:              o.Label,
		MessageHash:        o.MessageHash,
		CreatedAt:          o.CreatedAt,
	})
}

func (s *Server) handleGetInstitutions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.Institutions())
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	var dto AdminDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	caller, err := parseAddress("caller", dto.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	target := common.Address{}
	if dto.Target != "" {
		if target, err = parseAddress("target", dto.Target); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	digest, err := s.signer.HashAdmin(&crypto.AdminRequest{
		Action:  dto.Action,
		Key:     dto.Key,
		Target:  target,
		Flag:    dto.Flag,
		Payload: dto.Payload,
		Nonce:   bigU64(dto.Nonce),
		Caller:  caller,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.auth.VerifyDigest(digest, dto.Signature, caller, dto.Nonce); err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}

	switch dto.Action {
	case "setInstitution":
		var p InstitutionPayload
		if err := json.Unmarshal([]byte(dto.Payload), &p); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		err = s.reg.SetInstitution(caller, registry.Institution{Code: p.Code, Name: p.Name, Currency: p.Currency})
	case "removeInstitution":
		err = s.reg.RemoveInstitution(caller, dto.Key)
	case "setProtocolAddress":
		err = s.reg.SetProtocolAddress(caller, dto.Key, target)
	case "setSenderAllowed":
		err = s.reg.SetSenderAllowed(caller, target, dto.Flag)
	case "transferOwnership":
		err = s.reg.TransferOwnership(caller, target)
	case "mint":
		err = s.handleMint(caller, dto.Payload)
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown admin action"))
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMint is the devnet faucet: owner-gated issuance into the ledger.
func (s *Server) handleMint(caller common.Address, payload string) error {
	if caller != s.reg.Owner() {
		return engine.ErrUnauthorized
	}
	var p MintPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return err
	}
	tok, err := parseAddress("token", p.Token)
	if err != nil {
		return err
	}
	to, err := parseAddress("to", p.To)
	if err != nil {
		return err
	}
	amount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return err
	}
	return s.ledger.Mint(tok, to, amount)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var dto ApproveDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tok, err := parseAddress("token", dto.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	spender, err := parseAddress("spender", dto.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owner, err := parseAddress("owner", dto.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount("amount", dto.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	digest, err := s.signer.HashApprove(&crypto.ApproveRequest{
		Token:   tok,
		Spender: spender,
		Amount:  amount,
		Nonce:   bigU64(dto.Nonce),
		Owner:   owner,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.auth.VerifyDigest(digest, dto.Signature, owner, dto.Nonce); err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}

	if err := s.ledger.Approve(tok, owner, spender, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tok, err := parseAddress("token", vars["token"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := parseAddress("address", vars["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	bal, err := s.ledger.BalanceOf(tok, addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		Token:   tok.Hex(),
		Address: addr.Hex(),
		Balance: bal.String(),
	})
}

// handleGetEvents replays the journal from an optional ?from=seq cursor.
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	var from uint64
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		from = parsed
	}

	out := make([]storage.Envelope, 0)
	err := s.kv.Events(from, func(env storage.Envelope) error {
		out = append(out, env)
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	last, err := s.auth.LastNonce(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"lastNonce": last})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeEngineError maps engine failure kinds to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, engine.ErrUnauthorized), errors.Is(err, engine.ErrSenderNotAllowed):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrOrderAlreadySettled):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrInvalidBPS),
		errors.Is(err, engine.ErrInvalidAddress),
		errors.Is(err, engine.ErrUnsupportedInstitution),
		errors.Is(err, engine.ErrTransferFailed),
		errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}
	writeError(w, status, err)
}

func bigU64(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
