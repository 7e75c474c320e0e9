package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"vaultledger/config"
	"vaultledger/core/pricing"
	"vaultledger/crypto"
	"vaultledger/gateway/middleware"
	ledger "vaultledger/native/lending"
	"vaultledger/observability"
	"vaultledger/observability/metrics"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// Options wires the collaborators of a Server. Engine and Feed are
// required; the rest default to disabled or pass-through behaviour.
type Options struct {
	Engine        *ledger.Engine
	Feed          *pricing.Feed
	Market        *config.Market
	Logger        *slog.Logger
	Auth          *middleware.Authenticator
	Limiter       *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          *middleware.CORSConfig
	// Faucet enables the admin endpoint that mints asset tokens.
	Faucet bool
}

// Server exposes the ledger over HTTP. Engine calls are serialised: the
// ledger executes one call at a time.
type Server struct {
	mu      sync.Mutex
	engine  *ledger.Engine
	feed    *pricing.Feed
	pauses  ledger.ActionPauses
	names   *resolver
	logger  *slog.Logger
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	obs     *middleware.Observability
	cors    *middleware.CORSConfig
	faucet  bool
}

// New constructs a Server and installs the market's pauses on the engine.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("server: engine required")
	}
	if opts.Feed == nil {
		return nil, errors.New("server: price feed required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:  opts.Engine,
		feed:    opts.Feed,
		names:   newResolver(),
		logger:  logger,
		auth:    opts.Auth,
		limiter: opts.Limiter,
		obs:     opts.Observability,
		cors:    opts.CORS,
		faucet:  opts.Faucet,
	}
	if s.auth == nil {
		s.auth = middleware.NewAuthenticator(middleware.AuthConfig{}, logger)
	}
	if s.limiter == nil {
		s.limiter = middleware.NewRateLimiter(nil, logger)
	}
	if s.obs == nil {
		s.obs = middleware.NewObservability(middleware.ObservabilityConfig{Enabled: true}, logger)
	}
	if opts.Market != nil {
		for _, asset := range opts.Market.Assets {
			s.names.addAsset(asset.Symbol, asset.Address)
		}
		for _, vault := range opts.Market.Vaults {
			s.names.addVault(vault.Name, vault.Config.Address)
		}
		s.pauses = opts.Market.Pauses
	}
	s.engine.SetPauses(s.pauses)
	return s, nil
}

// Handler returns the HTTP routes wrapped in OpenTelemetry instrumentation.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	if s.cors != nil {
		r.Use(middleware.CORS(*s.cors))
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorCode(w, http.StatusNotFound, codeNotFound, "route not found")
	})

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.obs.MetricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware("lending"))
			r.Use(s.auth.Middleware())
			r.With(s.obs.Middleware("batch")).Post("/batch", s.handleBatch)
			r.With(s.obs.Middleware("simulate")).Post("/simulate", s.handleSimulate)
			r.With(s.obs.Middleware("vaults.list")).Get("/vaults", s.handleVaults)
			r.With(s.obs.Middleware("vaults.get")).Get("/vaults/{vault}", s.handleVault)
			r.With(s.obs.Middleware("vaults.ltv")).Get("/vaults/{vault}/ltv", s.handleVaultLTVs)
			r.With(s.obs.Middleware("vaults.position")).Get("/vaults/{vault}/accounts/{account}", s.handlePosition)
			r.With(s.obs.Middleware("accounts.get")).Get("/accounts/{account}", s.handleAccount)
			r.With(s.obs.Middleware("accounts.liquidity")).Get("/accounts/{account}/liquidity", s.handleLiquidity)
			r.With(s.obs.Middleware("accounts.liquidation")).Get("/accounts/{account}/liquidation", s.handleCheckLiquidation)
			r.With(s.obs.Middleware("prices.list")).Get("/prices", s.handlePrices)
			r.With(s.obs.Middleware("pauses.get")).Get("/pauses", s.handleGetPauses)
		})
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.limiter.Middleware("admin"))
			r.Use(s.auth.Middleware(middleware.AdminScope))
			r.With(s.obs.Middleware("admin.prices")).Put("/prices/{asset}", s.handleSetPrice)
			r.With(s.obs.Middleware("admin.pauses")).Put("/pauses", s.handleSetPauses)
			r.With(s.obs.Middleware("admin.ltv")).Put("/ltv", s.handleSetLTV)
			if s.faucet {
				r.With(s.obs.Middleware("admin.faucet")).Post("/faucet", s.handleFaucet)
			}
		})
	})
	return otelhttp.NewHandler(r, "vaultd")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	vaults, err := s.engine.Vaults(r.Context())
	s.mu.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "vaults": len(vaults)})
}

// caller resolves the account a request acts for. With authentication the
// token subject is authoritative and a body caller must match it.
func (s *Server) caller(r *http.Request, claimed string) (crypto.Address, error) {
	claimed = strings.TrimSpace(claimed)
	if subject, ok := middleware.Subject(r.Context()); ok {
		addr, err := crypto.ParseAddress(subject)
		if err != nil {
			return crypto.Address{}, fmt.Errorf("%w: token subject is not an address", ledger.ErrUnauthorized)
		}
		if claimed != "" {
			asserted, err := parseAddress("caller", claimed)
			if err != nil {
				return crypto.Address{}, err
			}
			if asserted != addr {
				return crypto.Address{}, fmt.Errorf("%w: caller does not match token subject", ledger.ErrUnauthorized)
			}
		}
		return addr, nil
	}
	if s.auth.Enabled() {
		return crypto.Address{}, fmt.Errorf("%w: authentication required", ledger.ErrUnauthorized)
	}
	if claimed == "" {
		return crypto.Address{}, badRequest("caller", "required")
	}
	return parseAddress("caller", claimed)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, requestBodyLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("body", "empty request body")
		}
		return badRequest("body", "%v", err)
	}
	if decoder.More() {
		return badRequest("body", "unexpected trailing data")
	}
	return nil
}

func (s *Server) decodeBatch(w http.ResponseWriter, r *http.Request) (crypto.Address, []ledger.Operation, error) {
	var req batchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return crypto.Address{}, nil, err
	}
	caller, err := s.caller(r, req.Caller)
	if err != nil {
		return crypto.Address{}, nil, err
	}
	if len(req.Ops) == 0 {
		return crypto.Address{}, nil, badRequest("ops", "at least one operation required")
	}
	ops, err := s.names.operations("ops", req.Ops)
	if err != nil {
		return crypto.Address{}, nil, err
	}
	return caller, ops, nil
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	caller, ops, err := s.decodeBatch(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	start := time.Now()
	s.mu.Lock()
	res, err := s.engine.Execute(ctx, caller, ops)
	if err == nil {
		s.publishVaultTotals(ctx)
	}
	s.mu.Unlock()
	recordCall("batch", err, time.Since(start))
	if err != nil {
		s.logger.Info("batch rejected",
			slog.String("request_id", middleware.RequestIDFromContext(ctx)),
			slog.String("caller", caller.Hex()),
			slog.String("code", errorCode(err)),
			slog.Any("error", err),
		)
		writeError(w, err)
		return
	}
	observability.Events().Record(res.Events)
	for _, ev := range res.Events {
		if ev.Type == ledger.EventType(ledger.OpLiquidate) {
			metrics.Lending().ObserveLiquidation(ev.Attribute("vault"))
		}
	}
	s.logger.Info("batch committed",
		slog.String("request_id", middleware.RequestIDFromContext(ctx)),
		slog.String("caller", caller.Hex()),
		slog.Int("items", len(ops)),
		slog.Int("events", len(res.Events)),
	)
	writeJSON(w, http.StatusOK, batchResponse{Results: encodeResults(res.Results), Events: encodeEvents(res.Events)})
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	caller, ops, err := s.decodeBatch(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	start := time.Now()
	s.mu.Lock()
	sim, err := s.engine.Simulate(r.Context(), caller, ops)
	s.mu.Unlock()
	recordCall("simulate", err, time.Since(start))
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.Lending().ObserveSimulation(sim.Failed())
	writeJSON(w, http.StatusOK, encodeSimulation(sim))
}

// publishVaultTotals refreshes the per-vault gauges. Callers hold s.mu.
func (s *Server) publishVaultTotals(ctx context.Context) {
	vaults, err := s.engine.Vaults(ctx)
	if err != nil {
		s.logger.Warn("list vaults for metrics", slog.Any("error", err))
		return
	}
	for _, vault := range vaults {
		assets, err := s.engine.TotalAssets(ctx, vault)
		if err != nil {
			continue
		}
		borrows, err := s.engine.TotalBorrows(ctx, vault)
		if err != nil {
			continue
		}
		metrics.Lending().SetVaultTotals(s.vaultLabel(vault), assets, borrows)
	}
}

func (s *Server) vaultLabel(addr crypto.Address) string {
	if name, ok := s.names.vaultNames[addr]; ok {
		return name
	}
	return addr.Hex()
}

func recordCall(kind string, err error, duration time.Duration) {
	code := ""
	if err != nil {
		code = errorCode(err)
		var checkErr *ledger.StatusCheckError
		if errors.As(err, &checkErr) {
			metrics.Lending().ObserveStatusCheckFailure(checkErr.Vault, code)
		}
	}
	metrics.Lending().ObserveCall(kind, code, duration)
}
