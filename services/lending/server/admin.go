package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vaultledger/gateway/middleware"
	ledger "vaultledger/native/lending"
)

type priceUpdate struct {
	Price string `json:"price"`
}

type ltvUpdate struct {
	Liability         string `json:"liability"`
	Collateral        string `json:"collateral"`
	BorrowLTVBps      uint64 `json:"borrowLTVBps"`
	LiquidationLTVBps uint64 `json:"liquidationLTVBps"`
}

type faucetRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type faucetResponse struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	asset, err := s.names.asset("asset", chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req priceUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		writeError(w, err)
		return
	}
	if price == nil || price.IsZero() || price.Eq(ledger.MaxAmount) {
		writeError(w, badRequest("price", "must be a positive amount"))
		return
	}
	if err := s.feed.SetPrice(asset, price); err != nil {
		writeError(w, err)
		return
	}
	quote, err := s.feed.Status(asset)
	if err != nil {
		writeError(w, err)
		return
	}
	s.operatorLog(r).Info("price updated",
		slog.String("asset", asset.Hex()),
		slog.String("price", price.Dec()),
	)
	writeJSON(w, http.StatusOK, priceView{
		Asset:      asset.Hex(),
		Symbol:     s.names.assetSymbol[asset],
		Price:      encodeAmount(quote.Price),
		AgeSeconds: quote.AgeSeconds,
		Status:     string(quote.Status),
	})
}

func (s *Server) handleSetPauses(w http.ResponseWriter, r *http.Request) {
	var req pausesView
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.mu.Lock()
	s.pauses = req.actionPauses()
	s.engine.SetPauses(s.pauses)
	s.mu.Unlock()
	s.operatorLog(r).Warn("operation pauses changed",
		slog.Any("pauses", req),
	)
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleSetLTV(w http.ResponseWriter, r *http.Request) {
	var req ltvUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	liability, err := s.names.vault("liability", req.Liability)
	if err != nil {
		writeError(w, err)
		return
	}
	collateral, err := s.names.vault("collateral", req.Collateral)
	if err != nil {
		writeError(w, err)
		return
	}
	cfg := ledger.LTVConfig{
		Liability:         liability,
		Collateral:        collateral,
		BorrowLTVBps:      req.BorrowLTVBps,
		LiquidationLTVBps: req.LiquidationLTVBps,
	}
	s.mu.Lock()
	err = s.engine.SetLTV(r.Context(), cfg)
	s.mu.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}
	s.operatorLog(r).Info("ltv updated",
		slog.String("liability", liability.Hex()),
		slog.String("collateral", collateral.Hex()),
		slog.Uint64("borrow_ltv_bps", cfg.BorrowLTVBps),
		slog.Uint64("liquidation_ltv_bps", cfg.LiquidationLTVBps),
	)
	writeJSON(w, http.StatusOK, ltvView{
		Liability:         liability.Hex(),
		Collateral:        collateral.Hex(),
		BorrowLTVBps:      cfg.BorrowLTVBps,
		LiquidationLTVBps: cfg.LiquidationLTVBps,
	})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	asset, err := s.names.asset("asset", req.Asset)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if amount == nil || amount.IsZero() || amount.Eq(ledger.MaxAmount) {
		writeError(w, badRequest("amount", "must be a positive amount"))
		return
	}
	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.engine.Fund(ctx, asset, account, amount); err != nil {
		writeError(w, err)
		return
	}
	balance, err := s.engine.TokenBalance(ctx, asset, account)
	if err != nil {
		writeError(w, err)
		return
	}
	s.operatorLog(r).Info("faucet credited",
		slog.String("account", account.Hex()),
		slog.String("asset", asset.Hex()),
		slog.String("amount", amount.Dec()),
	)
	writeJSON(w, http.StatusOK, faucetResponse{Account: account.Hex(), Asset: asset.Hex(), Balance: encodeAmount(balance)})
}

// operatorLog tags admin audit lines with the request and, when
// authenticated, the operator's subject and granted scopes.
func (s *Server) operatorLog(r *http.Request) *slog.Logger {
	ctx := r.Context()
	logger := s.logger.With(slog.String("request_id", middleware.RequestIDFromContext(ctx)))
	if subject, ok := middleware.Subject(ctx); ok {
		logger = logger.With(slog.String("operator", subject), slog.Any("scopes", middleware.Scopes(ctx)))
	}
	return logger
}
