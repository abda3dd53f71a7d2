package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"custodia/native/escrow"
	"custodia/observability"
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
)

type escrowCreateParams struct {
	Caller       string `json:"caller"`
	Counterparty string `json:"counterparty"`
	Arbitrator   string `json:"arbitrator"`
	Amount       string `json:"amount"`
}

type escrowActionParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
}

type escrowArbitrateParams struct {
	ID                    uint64 `json:"id"`
	Caller                string `json:"caller"`
	ReleaseToCounterparty bool   `json:"releaseToCounterparty"`
}

type escrowIDParams struct {
	ID uint64 `json:"id"`
}

type escrowCreateResult struct {
	ID uint64 `json:"id"`
}

type escrowStatusResult struct {
	ID     uint64 `json:"id"`
	Status string `json:"status"`
}

type escrowJSON struct {
	ID               uint64  `json:"id"`
	Initiator        string  `json:"initiator"`
	Counterparty     string  `json:"counterparty"`
	Arbitrator       string  `json:"arbitrator"`
	Amount           string  `json:"amount"`
	Status           string  `json:"status"`
	CreatedAt        int64   `json:"createdAt"`
	DisputeInitiator *string `json:"disputeInitiator,omitempty"`
}

type balanceResult struct {
	ID     uint64 `json:"id"`
	Amount string `json:"amount"`
}

type custodialBalanceResult struct {
	Total string `json:"total"`
}

func formatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if len(trimmed) != 40 {
		return addr, fmt.Errorf("address must be 20 hex bytes")
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address encoding: %v", err)
	}
	copy(addr[:], decoded)
	return addr, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must be a non-negative base-10 integer")
	}
	return amount, nil
}

func escrowToJSON(esc *escrow.Escrow) *escrowJSON {
	out := &escrowJSON{
		ID:           esc.ID,
		Initiator:    formatAddress(esc.Initiator),
		Counterparty: formatAddress(esc.Counterparty),
		Arbitrator:   formatAddress(esc.Arbitrator),
		Amount:       "0",
		Status:       esc.Status.String(),
		CreatedAt:    esc.CreatedAt,
	}
	if esc.Amount != nil {
		out.Amount = esc.Amount.String()
	}
	if esc.HasDispute {
		initiator := formatAddress(esc.DisputeInitiator)
		out.DisputeInitiator = &initiator
	}
	return out
}

// escrowErrorStatus maps engine sentinels onto HTTP status and module error
// codes. Every sentinel surfaces verbatim in the error data.
func escrowErrorStatus(err error) (int, int) {
	switch {
	case errors.Is(err, escrow.ErrZeroAmount),
		errors.Is(err, escrow.ErrInvalidCounterparty),
		errors.Is(err, escrow.ErrInvalidArbitrator),
		errors.Is(err, escrow.ErrInvalidEscrowID):
		return http.StatusBadRequest, codeEscrowInvalidParams
	case errors.Is(err, escrow.ErrNotFound):
		return http.StatusNotFound, codeEscrowNotFound
	case errors.Is(err, escrow.ErrNotAuthorized):
		return http.StatusForbidden, codeEscrowForbidden
	case errors.Is(err, escrow.ErrInvalidStatus),
		errors.Is(err, escrow.ErrTransferFailed):
		return http.StatusConflict, codeEscrowConflict
	default:
		return http.StatusInternalServerError, codeEscrowInternal
	}
}

func (s *Server) writeEscrowError(w http.ResponseWriter, req *RPCRequest, method string, err error) string {
	status, code := escrowErrorStatus(err)
	observability.Metrics().ObserveError("escrow", method, code)
	writeError(w, status, req.ID, code, "escrow_error", err.Error())
	return "error"
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return "unauthorized"
	}
	var params escrowCreateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	counterparty, err := parseAddress(params.Counterparty)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	arbitrator, err := parseAddress(params.Arbitrator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	id, err := s.engine.Create(caller, counterparty, arbitrator, amount)
	if err != nil {
		return s.writeEscrowError(w, req, "escrow_create", err)
	}
	s.log.Info("escrow created", "id", id, "initiator", params.Caller, "amount", amount.String())
	writeResult(w, req.ID, escrowCreateResult{ID: id})
	return "ok"
}

func (s *Server) handleEscrowComplete(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return "unauthorized"
	}
	var params escrowActionParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	if err := s.engine.Complete(params.ID, caller); err != nil {
		return s.writeEscrowError(w, req, "escrow_complete", err)
	}
	s.log.Info("escrow completed", "id", params.ID)
	writeResult(w, req.ID, escrowStatusResult{ID: params.ID, Status: escrow.StatusCompleted.String()})
	return "ok"
}

func (s *Server) handleEscrowDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return "unauthorized"
	}
	var params escrowActionParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	if err := s.engine.Dispute(params.ID, caller); err != nil {
		return s.writeEscrowError(w, req, "escrow_dispute", err)
	}
	s.log.Info("escrow disputed", "id", params.ID, "by", params.Caller)
	writeResult(w, req.ID, escrowStatusResult{ID: params.ID, Status: escrow.StatusDisputed.String()})
	return "ok"
}

func (s *Server) handleEscrowArbitrate(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return "unauthorized"
	}
	var params escrowArbitrateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	if err := s.engine.Arbitrate(params.ID, caller, params.ReleaseToCounterparty); err != nil {
		return s.writeEscrowError(w, req, "escrow_arbitrate", err)
	}
	s.log.Info("escrow arbitrated", "id", params.ID, "releaseToCounterparty", params.ReleaseToCounterparty)
	writeResult(w, req.ID, escrowStatusResult{ID: params.ID, Status: escrow.StatusCompleted.String()})
	return "ok"
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, req *RPCRequest) string {
	var params escrowIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	esc, ok, err := s.engine.Escrow(params.ID)
	if err != nil {
		return s.writeEscrowError(w, req, "escrow_get", err)
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeEscrowNotFound, "not_found", fmt.Sprintf("escrow %d not found", params.ID))
		return "not_found"
	}
	writeResult(w, req.ID, escrowToJSON(esc))
	return "ok"
}

func (s *Server) handleEscrowGetBalance(w http.ResponseWriter, req *RPCRequest) string {
	var params escrowIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	amount, ok, err := s.engine.Balance(params.ID)
	if err != nil {
		return s.writeEscrowError(w, req, "escrow_getBalance", err)
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeEscrowNotFound, "not_found", fmt.Sprintf("no balance held for escrow %d", params.ID))
		return "not_found"
	}
	writeResult(w, req.ID, balanceResult{ID: params.ID, Amount: amount.String()})
	return "ok"
}

func (s *Server) handleEscrowCustodialBalance(w http.ResponseWriter, req *RPCRequest) string {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "no parameters expected")
		return "invalid_params"
	}
	total, err := s.engine.CustodialBalance()
	if err != nil {
		return s.writeEscrowError(w, req, "escrow_custodialBalance", err)
	}
	writeResult(w, req.ID, custodialBalanceResult{Total: total.String()})
	return "ok"
}
