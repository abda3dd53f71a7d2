package rpc

import (
	"net/http"

	"custodia/observability"
)

const (
	codeReputationInvalidParams = -32031
	codeReputationNotFound      = -32032
	codeReputationInternal      = -32035
)

type reputationAddressParams struct {
	Address string `json:"address"`
}

type participantJSON struct {
	Address           string `json:"address"`
	Score             uint64 `json:"score"`
	TotalTrades       uint64 `json:"totalTrades"`
	SuccessfulTrades  uint64 `json:"successfulTrades"`
	DisputesInitiated uint64 `json:"disputesInitiated"`
	DisputesLost      uint64 `json:"disputesLost"`
}

type arbitratorJSON struct {
	Address       string `json:"address"`
	Score         uint64 `json:"score"`
	CasesResolved uint64 `json:"casesResolved"`
	ActiveSince   int64  `json:"activeSince"`
}

type bootstrapResult struct {
	Address    string `json:"address"`
	Registered bool   `json:"registered"`
}

func (s *Server) handleReputationGetParticipant(w http.ResponseWriter, req *RPCRequest) string {
	var params reputationAddressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeReputationInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeReputationInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	record, err := s.reputation.GetParticipant(addr)
	if err != nil {
		observability.Metrics().ObserveError("reputation", "reputation_getParticipant", codeReputationInternal)
		writeError(w, http.StatusInternalServerError, req.ID, codeReputationInternal, "reputation_error", err.Error())
		return "error"
	}
	writeResult(w, req.ID, participantJSON{
		Address:           formatAddress(addr),
		Score:             record.Score,
		TotalTrades:       record.TotalTrades,
		SuccessfulTrades:  record.SuccessfulTrades,
		DisputesInitiated: record.DisputesInitiated,
		DisputesLost:      record.DisputesLost,
	})
	return "ok"
}

func (s *Server) handleReputationGetArbitrator(w http.ResponseWriter, req *RPCRequest) string {
	var params reputationAddressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeReputationInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeReputationInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	record, ok, err := s.reputation.GetArbitrator(addr)
	if err != nil {
		observability.Metrics().ObserveError("reputation", "reputation_getArbitrator", codeReputationInternal)
		writeError(w, http.StatusInternalServerError, req.ID, codeReputationInternal, "reputation_error", err.Error())
		return "error"
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeReputationNotFound, "not_found", "arbitrator not registered")
		return "not_found"
	}
	writeResult(w, req.ID, arbitratorJSON{
		Address:       formatAddress(addr),
		Score:         record.Score,
		CasesResolved: record.CasesResolved,
		ActiveSince:   record.ActiveSince,
	})
	return "ok"
}

// handleReputationBootstrap seeds an arbitrator record out of band. Without it
// a fresh system can never name an arbitrator: the lifecycle only creates
// arbitrator records when a dispute is resolved, and escrow creation requires
// the record to already exist.
func (s *Server) handleReputationBootstrap(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return "unauthorized"
	}
	var params reputationAddressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeReputationInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeReputationInvalidParams, "invalid_params", err.Error())
		return "invalid_params"
	}
	created, err := s.reputation.BootstrapArbitrator(addr)
	if err != nil {
		observability.Metrics().ObserveError("reputation", "reputation_bootstrapArbitrator", codeReputationInternal)
		writeError(w, http.StatusInternalServerError, req.ID, codeReputationInternal, "reputation_error", err.Error())
		return "error"
	}
	if created {
		s.log.Info("arbitrator bootstrapped", "address", params.Address)
	}
	writeResult(w, req.ID, bootstrapResult{Address: formatAddress(addr), Registered: created})
	return "ok"
}
