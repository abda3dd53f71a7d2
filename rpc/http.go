package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"custodia/native/escrow"
	"custodia/native/reputation"
	"custodia/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	// Per-client request budget. Mutating and read methods share one bucket.
	requestsPerSecond = 20
	requestBurst      = 40
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// TokenEnv names the environment variable carrying the bearer token required
// by mutating methods. An empty token disables authentication (dev only).
const TokenEnv = "CUSTODIA_RPC_TOKEN"

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Server exposes the escrow lifecycle and query surface over JSON-RPC 2.0.
type Server struct {
	engine     *escrow.Engine
	reputation *reputation.Store
	log        *slog.Logger
	authToken  string

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer constructs a server around the native engines. The auth token is
// read from TokenEnv.
func NewServer(engine *escrow.Engine, store *reputation.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:     engine,
		reputation: store,
		log:        logger,
		authToken:  strings.TrimSpace(os.Getenv(TokenEnv)),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Router returns the HTTP handler tree: the JSON-RPC endpoint at the root plus
// health and metrics endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

// Start serves the router on addr until the listener fails.
func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) limiterFor(client string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst)
		s.limiters[client] = limiter
	}
	return limiter
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing bearer token"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid token"}
	}
	return nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.limiterFor(clientID(r)).Allow() {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limited", nil)
		return
	}
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req RPCRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse error", err.Error())
		return
	}
	if req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", "jsonrpc must be 2.0")
		return
	}

	start := time.Now()
	method := strings.TrimSpace(req.Method)
	module := "rpc"
	if idx := strings.IndexByte(method, '_'); idx > 0 {
		module = method[:idx]
	}
	outcome := "ok"
	defer func() {
		observability.Metrics().ObserveRequest(module, method, outcome, time.Since(start))
	}()

	switch method {
	case "escrow_create":
		outcome = s.handleEscrowCreate(w, r, &req)
	case "escrow_complete":
		outcome = s.handleEscrowComplete(w, r, &req)
	case "escrow_dispute":
		outcome = s.handleEscrowDispute(w, r, &req)
	case "escrow_arbitrate":
		outcome = s.handleEscrowArbitrate(w, r, &req)
	case "escrow_get":
		outcome = s.handleEscrowGet(w, &req)
	case "escrow_getBalance":
		outcome = s.handleEscrowGetBalance(w, &req)
	case "escrow_custodialBalance":
		outcome = s.handleEscrowCustodialBalance(w, &req)
	case "reputation_getParticipant":
		outcome = s.handleReputationGetParticipant(w, &req)
	case "reputation_getArbitrator":
		outcome = s.handleReputationGetArbitrator(w, &req)
	case "reputation_bootstrapArbitrator":
		outcome = s.handleReputationBootstrap(w, r, &req)
	default:
		outcome = "method_not_found"
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", method)
	}
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}
