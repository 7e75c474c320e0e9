package server

import (
	"bytes"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"vaultledger/crypto"
	ledger "vaultledger/native/lending"
)

type vaultView struct {
	Address               string `json:"address"`
	Name                  string `json:"name,omitempty"`
	Asset                 string `json:"asset"`
	AssetSymbol           string `json:"assetSymbol,omitempty"`
	Decimals              uint8  `json:"decimals"`
	TotalShares           string `json:"totalShares"`
	TotalAssets           string `json:"totalAssets"`
	Cash                  string `json:"cash"`
	TotalBorrows          string `json:"totalBorrows"`
	InterestRate          string `json:"interestRate"`
	BorrowAPR             string `json:"borrowAPR"`
	SupplyAPR             string `json:"supplyAPR"`
	InterestAccumulator   string `json:"interestAccumulator"`
	AccumulatedFees       string `json:"accumulatedFees"`
	AccumulatedFeesAssets string `json:"accumulatedFeesAssets"`
	InterestFeeBps        uint64 `json:"interestFeeBps"`
	FeeReceiver           string `json:"feeReceiver,omitempty"`
	SupplyCap             string `json:"supplyCap"`
	BorrowCap             string `json:"borrowCap"`
	LastUpdated           uint64 `json:"lastUpdated"`
}

type positionView struct {
	Vault       string `json:"vault"`
	Account     string `json:"account"`
	Shares      string `json:"shares"`
	Assets      string `json:"assets"`
	Debt        string `json:"debt"`
	DebtExact   string `json:"debtExact"`
	MaxWithdraw string `json:"maxWithdraw"`
	MaxRedeem   string `json:"maxRedeem"`
}

type accountView struct {
	Account     string            `json:"account"`
	Collaterals []string          `json:"collaterals"`
	Controllers []string          `json:"controllers"`
	Balances    map[string]string `json:"balances"`
}

type collateralValueView struct {
	Vault string `json:"vault"`
	Value string `json:"value"`
}

type liquidityView struct {
	Account         string                `json:"account"`
	Controller      string                `json:"controller"`
	Liquidation     bool                  `json:"liquidation"`
	Debt            string                `json:"debt"`
	CollateralValue string                `json:"collateralValue"`
	LiabilityValue  string                `json:"liabilityValue"`
	Collaterals     []collateralValueView `json:"collaterals"`
	Healthy         bool                  `json:"healthy"`
}

type liquidationView struct {
	Violator   string `json:"violator"`
	Liquidator string `json:"liquidator"`
	Vault      string `json:"vault"`
	Collateral string `json:"collateral"`
	MaxRepay   string `json:"maxRepay"`
	Yield      string `json:"yield"`
}

type ltvView struct {
	Liability         string `json:"liability"`
	Collateral        string `json:"collateral"`
	BorrowLTVBps      uint64 `json:"borrowLTVBps"`
	LiquidationLTVBps uint64 `json:"liquidationLTVBps"`
}

type priceView struct {
	Asset      string `json:"asset"`
	Symbol     string `json:"symbol,omitempty"`
	Price      string `json:"price"`
	AgeSeconds uint32 `json:"ageSeconds"`
	Status     string `json:"status"`
}

type pausesView struct {
	Deposit   bool `json:"deposit"`
	Withdraw  bool `json:"withdraw"`
	Transfer  bool `json:"transfer"`
	Borrow    bool `json:"borrow"`
	Repay     bool `json:"repay"`
	Liquidate bool `json:"liquidate"`
}

// amountField fills dst with the decimal rendering of get's result.
type amountField struct {
	dst *string
	get func() (*uint256.Int, error)
}

func hexList(addrs []crypto.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, addr.Hex())
	}
	return out
}

func sortAddresses(addrs []crypto.Address) {
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
}

func (s *Server) handleVaults(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs, err := s.engine.Vaults(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]vaultView, 0, len(addrs))
	for _, addr := range addrs {
		view, err := s.vaultView(r, addr)
		if err != nil {
			writeError(w, err)
			return
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleVault(w http.ResponseWriter, r *http.Request) {
	addr, err := s.names.vault("vault", chi.URLParam(r, "vault"))
	if err != nil {
		writeError(w, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	view, err := s.vaultView(r, addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

const aprPrecision = 8

// vaultView assembles a vault snapshot. Callers hold s.mu.
func (s *Server) vaultView(r *http.Request, addr crypto.Address) (vaultView, error) {
	ctx := r.Context()
	v, err := s.engine.Vault(ctx, addr)
	if err != nil {
		return vaultView{}, err
	}
	totalAssets, err := s.engine.TotalAssets(ctx, addr)
	if err != nil {
		return vaultView{}, err
	}
	totalBorrows, err := s.engine.TotalBorrows(ctx, addr)
	if err != nil {
		return vaultView{}, err
	}
	feesAssets, err := s.engine.AccumulatedFeesAssets(ctx, addr)
	if err != nil {
		return vaultView{}, err
	}
	supplyAPR, err := s.engine.SupplyAPR(ctx, addr)
	if err != nil {
		return vaultView{}, err
	}
	view := vaultView{
		Address:               v.Address.Hex(),
		Name:                  s.names.vaultNames[v.Address],
		Asset:                 v.Asset.Hex(),
		AssetSymbol:           s.names.assetSymbol[v.Asset],
		Decimals:              v.Decimals,
		TotalShares:           encodeAmount(v.TotalShares),
		TotalAssets:           encodeAmount(totalAssets),
		Cash:                  encodeAmount(v.Cash),
		TotalBorrows:          encodeAmount(totalBorrows),
		InterestRate:          encodeAmount(v.InterestRate),
		BorrowAPR:             ledger.APRFromRate(v.InterestRate).FloatString(aprPrecision),
		SupplyAPR:             supplyAPR.FloatString(aprPrecision),
		InterestAccumulator:   encodeAmount(v.InterestAccumulator),
		AccumulatedFees:       encodeAmount(v.AccumulatedFees),
		AccumulatedFeesAssets: encodeAmount(feesAssets),
		InterestFeeBps:        v.InterestFeeBps,
		SupplyCap:             encodeAmount(v.SupplyCap),
		BorrowCap:             encodeAmount(v.BorrowCap),
		LastUpdated:           v.LastUpdated,
	}
	if !v.FeeReceiver.IsZero() {
		view.FeeReceiver = v.FeeReceiver.Hex()
	}
	return view, nil
}

func (s *Server) handleVaultLTVs(w http.ResponseWriter, r *http.Request) {
	liability, err := s.names.vault("vault", chi.URLParam(r, "vault"))
	if err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.engine.Vault(ctx, liability); err != nil {
		writeError(w, err)
		return
	}
	vaults, err := s.engine.Vaults(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]ltvView, 0)
	for _, collateral := range vaults {
		if collateral == liability {
			continue
		}
		cfg, err := s.engine.LTV(ctx, liability, collateral)
		if err != nil {
			writeError(w, err)
			return
		}
		if cfg == nil {
			continue
		}
		views = append(views, ltvView{
			Liability:         cfg.Liability.Hex(),
			Collateral:        cfg.Collateral.Hex(),
			BorrowLTVBps:      cfg.BorrowLTVBps,
			LiquidationLTVBps: cfg.LiquidationLTVBps,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	vault, err := s.names.vault("vault", chi.URLParam(r, "vault"))
	if err != nil {
		writeError(w, err)
		return
	}
	account, err := parseAddress("account", chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	shares, err := s.engine.BalanceOf(ctx, vault, account)
	if err != nil {
		writeError(w, err)
		return
	}
	view := positionView{Vault: vault.Hex(), Account: account.Hex(), Shares: encodeAmount(shares)}
	fields := []amountField{
		{&view.Assets, func() (*uint256.Int, error) { return s.engine.ConvertToAssets(ctx, vault, shares) }},
		{&view.Debt, func() (*uint256.Int, error) { return s.engine.DebtOf(ctx, vault, account) }},
		{&view.DebtExact, func() (*uint256.Int, error) { return s.engine.DebtOfExact(ctx, vault, account) }},
		{&view.MaxWithdraw, func() (*uint256.Int, error) { return s.engine.MaxWithdraw(ctx, vault, account) }},
		{&view.MaxRedeem, func() (*uint256.Int, error) { return s.engine.MaxRedeem(ctx, vault, account) }},
	}
	for _, value := range fields {
		amount, err := value.get()
		if err != nil {
			writeError(w, err)
			return
		}
		*value.dst = encodeAmount(amount)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress("account", chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	s.mu.Lock()
	defer s.mu.Unlock()

	collaterals, err := s.engine.Collaterals(ctx, account)
	if err != nil {
		writeError(w, err)
		return
	}
	controllers, err := s.engine.Controllers(ctx, account)
	if err != nil {
		writeError(w, err)
		return
	}
	view := accountView{
		Account:     account.Hex(),
		Collaterals: hexList(collaterals),
		Controllers: hexList(controllers),
		Balances:    make(map[string]string, len(s.names.assets)),
	}
	for symbol, asset := range s.names.assets {
		balance, err := s.engine.TokenBalance(ctx, asset, account)
		if err != nil {
			writeError(w, err)
			return
		}
		view.Balances[symbol] = encodeAmount(balance)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLiquidity(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress("account", chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	liquidation := false
	if raw := r.URL.Query().Get("liquidation"); raw != "" {
		if liquidation, err = strconv.ParseBool(raw); err != nil {
			writeError(w, badRequest("liquidation", "invalid boolean %q", raw))
			return
		}
	}
	s.mu.Lock()
	liq, err := s.engine.AccountLiquidityFull(r.Context(), account, liquidation)
	s.mu.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}
	view := liquidityView{
		Account:         account.Hex(),
		Controller:      liq.Controller.Hex(),
		Liquidation:     liquidation,
		Debt:            encodeAmount(liq.Debt),
		CollateralValue: encodeAmount(liq.CollateralValue),
		LiabilityValue:  encodeAmount(liq.LiabilityValue),
		Collaterals:     make([]collateralValueView, 0, len(liq.Collaterals)),
		Healthy:         !liq.CollateralValue.Lt(liq.LiabilityValue),
	}
	for _, c := range liq.Collaterals {
		view.Collaterals = append(view.Collaterals, collateralValueView{Vault: c.Vault.Hex(), Value: encodeAmount(c.Value)})
	}
	writeJSON(w, http.StatusOK, view)
}

// handleCheckLiquidation previews a liquidation of the path account. The
// liquidator defaults to the authenticated caller.
func (s *Server) handleCheckLiquidation(w http.ResponseWriter, r *http.Request) {
	violator, err := parseAddress("account", chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err)
		return
	}
	query := r.URL.Query()
	vault, err := s.names.vault("vault", query.Get("vault"))
	if err != nil {
		writeError(w, err)
		return
	}
	collateral, err := s.names.vault("collateral", query.Get("collateral"))
	if err != nil {
		writeError(w, err)
		return
	}
	liquidator, err := s.caller(r, query.Get("liquidator"))
	if err != nil {
		writeError(w, err)
		return
	}
	s.mu.Lock()
	maxRepay, yield, err := s.engine.CheckLiquidation(r.Context(), liquidator, violator, vault, collateral)
	s.mu.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, liquidationView{
		Violator:   violator.Hex(),
		Liquidator: liquidator.Hex(),
		Vault:      vault.Hex(),
		Collateral: collateral.Hex(),
		MaxRepay:   encodeAmount(maxRepay),
		Yield:      encodeAmount(yield),
	})
}

func (s *Server) handlePrices(w http.ResponseWriter, _ *http.Request) {
	assets := s.feed.Assets()
	sortAddresses(assets)
	views := make([]priceView, 0, len(assets))
	for _, asset := range assets {
		quote, err := s.feed.Status(asset)
		if err != nil {
			writeError(w, err)
			return
		}
		views = append(views, priceView{
			Asset:      asset.Hex(),
			Symbol:     s.names.assetSymbol[asset],
			Price:      encodeAmount(quote.Price),
			AgeSeconds: quote.AgeSeconds,
			Status:     string(quote.Status),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetPauses(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	p := s.pauses
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, encodePauses(p))
}

func encodePauses(p ledger.ActionPauses) pausesView {
	return pausesView{
		Deposit:   p.Deposit,
		Withdraw:  p.Withdraw,
		Transfer:  p.Transfer,
		Borrow:    p.Borrow,
		Repay:     p.Repay,
		Liquidate: p.Liquidate,
	}
}

func (p pausesView) actionPauses() ledger.ActionPauses {
	return ledger.ActionPauses{
		Deposit:   p.Deposit,
		Withdraw:  p.Withdraw,
		Transfer:  p.Transfer,
		Borrow:    p.Borrow,
		Repay:     p.Repay,
		Liquidate: p.Liquidate,
	}
}
