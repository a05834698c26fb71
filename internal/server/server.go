package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nftrelay/internal/hmacauth"
	"nftrelay/internal/journal"
	"nftrelay/internal/orchestrator"

	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

const maxRequestBytes = hmacauth.DefaultMaxBody

// Workflow runs one cross-chain transfer. *orchestrator.Sequencer implements it.
type Workflow interface {
	Run(ctx context.Context, req orchestrator.Request) orchestrator.Result
}

type Options struct {
	HTTPPort       int
	CORSOrigins    []string
	HMACSecret     string
	HMACClockSkew  time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

type Deps struct {
	Workflow Workflow
	Journal  journal.Store
	Metrics  *Metrics
	// RPCHealth is optional; health reports the RPC as connected when it is nil.
	RPCHealth func(context.Context) error
	Logger    zerolog.Logger
}

type Server struct {
	workflow    Workflow
	journal     journal.Store
	hmac        *hmacauth.Verifier
	limiter     *clientLimiter
	metrics     *Metrics
	rpcHealthFn func(context.Context) error
	logger      zerolog.Logger
	httpServer  *http.Server
}

func NewServer(opts Options, deps Deps) *Server {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	store := deps.Journal
	if store == nil {
		store = journal.NewMemoryStore(0)
	}

	s := &Server{
		workflow:    deps.Workflow,
		journal:     store,
		limiter:     newClientLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		metrics:     metrics,
		rpcHealthFn: deps.RPCHealth,
		logger:      deps.Logger,
	}
	s.hmac = &hmacauth.Verifier{
		Secret:  opts.HMACSecret,
		MaxSkew: opts.HMACClockSkew,
		MaxBody: maxRequestBytes,
		Reject: func(w http.ResponseWriter, r *http.Request, err error) {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Rejected unsigned request")
			writeJSON(w, hmacauth.StatusFor(err), handlerFailure(err.Error()))
		},
	}

	mux := http.NewServeMux()
	mux.Handle("POST /transferCrossChain", s.rateLimit(s.hmac.Middleware(http.HandlerFunc(s.handleTransfer))))
	mux.Handle("GET /api/v1/transfers/{id}", s.rateLimit(s.hmac.Middleware(http.HandlerFunc(s.handleGetTransfer))))
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.Handle("GET /api/v1/metrics", metrics.handler())

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", hmacauth.HeaderSignature, hmacauth.HeaderTimestamp, headerRequestID},
		ExposedHeaders: []string{headerRequestID, headerClientRequestID},
	})

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(opts.HTTPPort),
		Handler:           requestContext(s.logger, corsHandler.Handler(mux)),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// Handler exposes the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("API listening")
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// tokenID accepts both "42" and 42.
type tokenID string

func (t *tokenID) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*t = tokenID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return errors.New("tokenId must be an integer or integer string")
	}
	*t = tokenID(n.String())
	return nil
}

type transferRequest struct {
	Receiver    string  `json:"receiver"`
	Destination string  `json:"destination"`
	TokenID     tokenID `json:"tokenId"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	// An on-chain step already broadcast cannot be called back, so a client that hangs
	// up does not stop the workflow.
	ctx := context.WithoutCancel(r.Context())
	logger := zerolog.Ctx(ctx)

	var payload transferRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&payload); err != nil {
		logger.Warn().Err(err).Msg("Malformed transfer request")
		s.metrics.observeWorkflow(orchestrator.Result{Step: orchestrator.StepHandler})
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, handlerFailure(hmacauth.ErrBodyTooLarge.Error()))
			return
		}
		writeJSON(w, http.StatusBadRequest, handlerFailure("invalid json payload: "+err.Error()))
		return
	}

	req := orchestrator.Request{
		Receiver:    strings.TrimSpace(payload.Receiver),
		Destination: strings.TrimSpace(payload.Destination),
		TokenID:     string(payload.TokenID),
	}
	res := s.workflow.Run(ctx, req)
	s.metrics.observeWorkflow(res)
	s.record(ctx, r.Header.Get(headerRequestID), req, res, started)

	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res.Response())
}

// record appends the outcome to the journal. A journal failure is logged and counted
// but never changes the response, since the chain work has already happened.
func (s *Server) record(ctx context.Context, id string, req orchestrator.Request, res orchestrator.Result, started time.Time) {
	resp := res.Response()
	entry := journal.Entry{
		ID:              id,
		ClientRequestID: clientRequestID(ctx),
		Receiver:        req.Receiver,
		Destination:     req.Destination,
		TokenID:         req.TokenID,
		Success:         res.Success,
		State:           res.State.String(),
		Step:            string(resp.Step),
		Error:           resp.Error,
		MintTx:          res.MintTx,
		TransferTx:      res.TransferTx,
		StartedAt:       started.UTC(),
		FinishedAt:      time.Now().UTC(),
	}
	if err := s.journal.Append(ctx, entry); err != nil {
		s.metrics.incJournalError()
		zerolog.Ctx(ctx).Error().Err(err).Msg("Journal append failed")
	}
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, err := s.journal.Get(r.Context(), id)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("transfer_id", id).Msg("Journal lookup failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "journal unavailable"})
		return
	}
	if entry == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "transfer not found"})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type dependencyHealth struct {
	Connected bool    `json:"connected"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

func checkDependency(ctx context.Context, fn func(context.Context) error) dependencyHealth {
	if fn == nil {
		return dependencyHealth{Connected: true}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	start := time.Now()
	if err := fn(ctx); err != nil {
		return dependencyHealth{Error: err.Error()}
	}
	return dependencyHealth{
		Connected: true,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rpcInfo := checkDependency(r.Context(), s.rpcHealthFn)
	dbInfo := checkDependency(r.Context(), s.journal.Ping)

	status := "healthy"
	code := http.StatusOK
	if !rpcInfo.Connected || !dbInfo.Connected {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, struct {
		Status   string           `json:"status"`
		RPC      dependencyHealth `json:"rpc"`
		Database dependencyHealth `json:"database"`
	}{
		Status:   status,
		RPC:      rpcInfo,
		Database: dbInfo,
	})
}

func handlerFailure(msg string) orchestrator.Response {
	return orchestrator.Response{Success: false, Step: orchestrator.StepHandler, Error: msg}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
