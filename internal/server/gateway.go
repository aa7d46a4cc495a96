package server

import (
	"SynthLedger/internal/engine"
	"SynthLedger/internal/ledger"
	"SynthLedger/internal/observability"
	"SynthLedger/internal/oracle"
	"SynthLedger/internal/query"
	"SynthLedger/internal/registry"
	"SynthLedger/internal/token"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer wraps the gRPC server and the gRPC-Gateway HTTP mux.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	api           *apiHandlers
}

// ServerDeps holds all dependencies needed by the API handlers.
type ServerDeps struct {
	Engine        *engine.Engine
	Sequencer     *Sequencer
	QueryService  *query.Service
	HealthChecker *observability.HealthChecker
}

// NewGRPCServer creates a new gRPC server with health checking and
// reflection registered, plus the HTTP/JSON API handlers.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer()

	// Health check
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: deps.HealthChecker,
		api: &apiHandlers{
			eng: deps.Engine,
			seq: deps.Sequencer,
			qs:  deps.QueryService,
		},
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.grpcServer.GracefulStop()
	}()

	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway starts the HTTP/JSON API server (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		path    string
		handler runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/collateral/deposit", s.api.handleDeposit},
		{http.MethodPost, "/v1/collateral/redeem", s.api.handleRedeem},
		{http.MethodPost, "/v1/collateral/deposit-and-mint", s.api.handleDepositAndMint},
		{http.MethodPost, "/v1/collateral/redeem-for-debt", s.api.handleRedeemForDebt},
		{http.MethodPost, "/v1/debt/mint", s.api.handleMint},
		{http.MethodPost, "/v1/debt/burn", s.api.handleBurn},
		{http.MethodPost, "/v1/liquidations", s.api.handleLiquidate},
		{http.MethodGet, "/v1/accounts/{user}/health", s.api.handleAccountHealth},
		{http.MethodGet, "/v1/accounts/{user}/collateral", s.api.handleAccountCollateral},
		{http.MethodGet, "/v1/accounts/{user}/collateral/{asset}", s.api.handleCollateralBalance},
		{http.MethodGet, "/v1/assets", s.api.handleAssets},
		{http.MethodGet, "/v1/assets/{asset}/token-amount", s.api.handleTokenAmount},
		{http.MethodGet, "/v1/operations", s.api.handleOperations},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.path, r.handler); err != nil {
			return fmt.Errorf("register route %s %s: %w", r.method, r.path, err)
		}
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP gateway shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP gateway listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ============================================================================
// HTTP/JSON API handlers
// ============================================================================

type apiHandlers struct {
	eng *engine.Engine
	seq *Sequencer
	qs  *query.Service
}

type depositRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type redeemRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type mintRequest struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

type burnRequest struct {
	Payer      string `json:"payer"`
	OnBehalfOf string `json:"on_behalf_of"`
	Amount     string `json:"amount"`
}

type depositAndMintRequest struct {
	User             string `json:"user"`
	Asset            string `json:"asset"`
	AmountCollateral string `json:"amount_collateral"`
	AmountDebt       string `json:"amount_debt"`
}

type redeemForDebtRequest struct {
	User             string `json:"user"`
	Asset            string `json:"asset"`
	AmountCollateral string `json:"amount_collateral"`
	AmountDebt       string `json:"amount_debt"`
}

type liquidateRequest struct {
	Liquidator  string `json:"liquidator"`
	User        string `json:"user"`
	Asset       string `json:"asset"`
	DebtToCover string `json:"debt_to_cover"`
}

type operationResponse struct {
	Status   string `json:"status"`
	Sequence int64  `json:"sequence"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *apiHandlers) handleDeposit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	user, err := parseUUID(req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	a.submit(w, r, func(ctx context.Context) error {
		return a.eng.DepositCollateral(ctx, user, req.Asset, amount)
	})
}

func (a *apiHandlers) handleRedeem(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	from, err := parseUUID(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// Destination defaults to the redeeming account.
	to := from
	if req.To != "" {
		if to, err = parseUUID(req.To); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	a.submit(w, r, func(ctx context.Context) error {
		return a.eng.RedeemCollateral(ctx, req.Asset, amount, from, to)
	})
}

func (a *apiHandlers) handleMint(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	user, err := parseUUID(req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	a.submit(w, r, func(ctx context.Context) error {
		return a.eng.MintDebt(ctx, user, amount)
	})
}

func (a *apiHandlers) handleBurn(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req burnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	payer, err := parseUUID(req.Payer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	onBehalfOf := payer
	if req.OnBehalfOf != "" {
		if onBehalfOf, err = parseUUID(req.OnBehalfOf); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	a.submit(w, r, func(ctx context.Context) error {
		return a.eng.BurnDebt(ctx, amount, onBehalfOf, payer)
	})
}

func (a *apiHandlers) handleDepositAndMint(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req depositAndMintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	user, err := parseUUID(req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amountCollateral, err := parseAmount(req.AmountCollateral)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amountDebt, err := parseAmount(req.AmountDebt)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	a.submit(w, r, func(ctx context.Context) error {
		return a.eng.DepositCollateralAndMintDebt(ctx, user, req.Asset, amountCollateral, amountDebt)
	})
}

func (a *apiHandlers) handleRedeemForDebt(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req redeemForDebtRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	user, err := parseUUID(req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amountCollateral, err := parseAmount(req.AmountCollateral)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amountDebt, err := parseAmount(req.AmountDebt)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	a.submit(w, r, func(ctx context.Context) error {
		return a.eng.RedeemCollateralForDebt(ctx, user, req.Asset, amountCollateral, amountDebt)
	})
}

func (a *apiHandlers) handleLiquidate(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req liquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	liquidator, err := parseUUID(req.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := parseUUID(req.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	debtToCover, err := parseAmount(req.DebtToCover)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	a.submit(w, r, func(ctx context.Context) error {
		return a.eng.Liquidate(ctx, liquidator, user, req.Asset, debtToCover)
	})
}

// submit runs op through the sequencer and writes the outcome.
func (a *apiHandlers) submit(w http.ResponseWriter, r *http.Request, op OpFunc) {
	if err := a.seq.Submit(r.Context(), op); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, operationResponse{
		Status:   "committed",
		Sequence: a.eng.Sequence(),
	})
}

func (a *apiHandlers) handleAccountHealth(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	user, err := parseUUID(pathParams["user"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.qs.AccountHealth(r.Context(), user)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *apiHandlers) handleAccountCollateral(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	user, err := parseUUID(pathParams["user"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.qs.AccountCollateral(r.Context(), user)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *apiHandlers) handleCollateralBalance(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	user, err := parseUUID(pathParams["user"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.qs.CollateralBalance(r.Context(), user, pathParams["asset"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *apiHandlers) handleAssets(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, a.qs.SupportedAssets())
}

func (a *apiHandlers) handleTokenAmount(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	usdWad, err := parseAmount(r.URL.Query().Get("usd_wad"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.qs.TokenAmountFromUSD(r.Context(), pathParams["asset"], usdWad)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *apiHandlers) handleOperations(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()

	var fromSequence int64
	if v := q.Get("from_sequence"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid from_sequence %q", v))
			return
		}
		fromSequence = n
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	records, err := a.qs.ListOperations(r.Context(), fromSequence, limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": records})
}

// ============================================================================
// Helpers
// ============================================================================

func parseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid uuid %q", s)
	}
	return id, nil
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing amount")
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("ERROR: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps engine and query errors to HTTP status codes.
func statusFor(err error) int {
	var (
		zeroAmount   *engine.ZeroAmountError
		reentrant    *engine.ReentrantCallError
		hfBroken     *engine.HealthFactorBrokenError
		notEligible  *engine.LiquidationNotEligibleError
		notImproved  *engine.LiquidationNotImprovedError
		insolvent    *engine.LiquidatorInsolventError
		unsupported  *registry.UnsupportedAssetError
		shortCollat  *ledger.InsufficientCollateralError
		shortDebt    *ledger.InsufficientDebtError
		staleQuote   *oracle.StalePriceError
		invalidQuote *oracle.InvalidAnswerError
		transferFail *token.TransferFailedError
	)
	switch {
	case errors.As(err, &zeroAmount), errors.As(err, &unsupported):
		return http.StatusBadRequest
	case errors.As(err, &hfBroken), errors.As(err, &notEligible),
		errors.As(err, &notImproved), errors.As(err, &insolvent),
		errors.As(err, &shortCollat), errors.As(err, &shortDebt):
		return http.StatusConflict
	case errors.As(err, &reentrant):
		return http.StatusConflict
	case errors.As(err, &transferFail):
		return http.StatusUnprocessableEntity
	case errors.As(err, &staleQuote), errors.As(err, &invalidQuote):
		return http.StatusServiceUnavailable
	case errors.Is(err, query.ErrNoDatabase):
		return http.StatusNotImplemented
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
