package config

// Engine holds the engine-wide limits. Zero values select the ledger
// defaults.
type Engine struct {
	// UnitOfAccount names the asset every valuation is quoted in. It may be
	// a configured asset symbol, an address, or a bare label.
	UnitOfAccount             string  `toml:"UnitOfAccount"`
	MaxCollaterals            int     `toml:"MaxCollaterals"`
	MaxLiquidationDiscountBps uint64  `toml:"MaxLiquidationDiscountBps"`
	MaxBatchSize              int     `toml:"MaxBatchSize"`
	MaxInterestAPR            float64 `toml:"MaxInterestAPR"`
}

// Oracle bounds how old and how far from its reference a price may be.
type Oracle struct {
	MaxAgeSeconds   uint32 `toml:"MaxAgeSeconds"`
	MaxDeviationBps uint32 `toml:"MaxDeviationBps"`
}

// Asset is an underlying token. Price is quoted in unit-of-account base
// units per whole token; an empty Price leaves the asset unpriced.
type Asset struct {
	Symbol    string `toml:"Symbol"`
	Address   string `toml:"Address,omitempty"`
	Decimals  uint8  `toml:"Decimals"`
	Price     string `toml:"Price,omitempty"`
	Reference string `toml:"Reference,omitempty"`
	SpreadBps uint32 `toml:"SpreadBps,omitempty"`
}

// RateModel selects the vault interest curve. Kind is "kink", "fixed" or
// "zero"; empty selects the ledger's default kinked curve.
type RateModel struct {
	Kind     string  `toml:"Kind"`
	BaseRate float64 `toml:"BaseRate,omitempty"`
	Slope1   float64 `toml:"Slope1,omitempty"`
	Slope2   float64 `toml:"Slope2,omitempty"`
	Kink     float64 `toml:"Kink,omitempty"`
	APR      float64 `toml:"APR,omitempty"`
}

const (
	RateModelKink  = "kink"
	RateModelFixed = "fixed"
	RateModelZero  = "zero"
)

// Vault registers a lending vault over one asset.
type Vault struct {
	Name           string    `toml:"Name"`
	Address        string    `toml:"Address,omitempty"`
	Asset          string    `toml:"Asset"`
	InterestFeeBps uint64    `toml:"InterestFeeBps"`
	FeeReceiver    string    `toml:"FeeReceiver,omitempty"`
	SupplyCap      string    `toml:"SupplyCap,omitempty"`
	BorrowCap      string    `toml:"BorrowCap,omitempty"`
	RateModel      RateModel `toml:"RateModel"`
}

// LTV lets Collateral back borrows from Liability. Both name vaults.
type LTV struct {
	Liability         string `toml:"Liability"`
	Collateral        string `toml:"Collateral"`
	BorrowLTVBps      uint64 `toml:"BorrowLTVBps"`
	LiquidationLTVBps uint64 `toml:"LiquidationLTVBps"`
}

type Pauses struct {
	Deposit   bool `toml:"Deposit"`
	Withdraw  bool `toml:"Withdraw"`
	Transfer  bool `toml:"Transfer"`
	Borrow    bool `toml:"Borrow"`
	Repay     bool `toml:"Repay"`
	Liquidate bool `toml:"Liquidate"`
}

// Allocation credits an account with asset tokens at bootstrap.
type Allocation struct {
	Account string `toml:"Account"`
	Asset   string `toml:"Asset"`
	Amount  string `toml:"Amount"`
}
