package lending

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"

	"vaultledger/crypto"
	"vaultledger/native/bank"
	nativecommon "vaultledger/native/common"
)

const moduleName = "lending"

// Engine orchestrates every state transition of the vault ledger. Calls are
// serialised by the host: the engine is not safe for concurrent use, and a
// collaborator that calls back into the engine while a call is in flight is
// rejected with ErrReentrancy.
type Engine struct {
	state      engineState
	oracle     PriceOracle
	params     Params
	rateModels map[crypto.Address]RateModel
	pauses     nativecommon.PauseView
	logger     *slog.Logger
	clock      func() time.Time
	fixedTime  uint64
	busy       bool
}

// NewEngine constructs an engine with the supplied limits. State and oracle
// must be wired before use.
func NewEngine(params Params) *Engine {
	params.EnsureDefaults()
	return &Engine{
		params:     params,
		rateModels: make(map[crypto.Address]RateModel),
		logger:     slog.Default(),
		clock:      time.Now,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.state = state
}

// SetOracle configures the price oracle used for all valuations.
func (e *Engine) SetOracle(oracle PriceOracle) {
	if e == nil {
		return
	}
	e.oracle = oracle
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger.With(slog.String("component", moduleName))
}

// SetClock replaces the wall clock used to time accrual.
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
	e.fixedTime = 0
}

// SetTimestamp pins the time used for accrual to a unix timestamp, which
// hosts with their own notion of time (and tests) use instead of the clock.
func (e *Engine) SetTimestamp(ts uint64) {
	if e == nil {
		return
	}
	e.fixedTime = ts
}

// Params returns the engine limits.
func (e *Engine) Params() Params {
	if e == nil {
		return Params{}
	}
	return e.params
}

func (e *Engine) timestamp() uint64 {
	if e.fixedTime != 0 {
		return e.fixedTime
	}
	return uint64(e.clock().Unix())
}

func (e *Engine) rateModel(vault crypto.Address) RateModel {
	if model, ok := e.rateModels[vault]; ok && model != nil {
		return model
	}
	return DefaultInterestModel
}

func (e *Engine) guard(kind OpKind) error {
	if err := nativecommon.Guard(e.pauses, moduleName, pauseKey(kind)); err != nil {
		return fmt.Errorf("%w: %w", ErrOperationDisabled, err)
	}
	return nil
}

// run executes fn inside a fresh call context and commits its journal only
// when fn and every scheduled status check succeed.
func (e *Engine) run(ctx context.Context, caller crypto.Address, deferred bool, fn func(c *callContext) error) (*callContext, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.busy {
		return nil, ErrReentrancy
	}
	e.busy = true
	defer func() { e.busy = false }()
	if ctx == nil {
		ctx = context.Background()
	}

	c := newCallContext(ctx, caller, e.timestamp(), newJournal(e.state), deferred)
	if err := fn(c); err != nil {
		e.logger.Debug("call rolled back", slog.String("caller", caller.Hex()), slog.String("code", ErrorCode(err)), slog.Any("error", err))
		return nil, err
	}
	if err := e.checkStatus(c); err != nil {
		e.logger.Debug("status check failed", slog.String("caller", caller.Hex()), slog.String("code", ErrorCode(err)), slog.Any("error", err))
		return nil, err
	}
	writes := c.state.size()
	if err := e.commit(c.state); err != nil {
		return nil, fmt.Errorf("lending: commit: %w", err)
	}
	e.logger.Debug("call committed",
		slog.String("caller", caller.Hex()),
		slog.Bool("batch", deferred),
		slog.Int("accountChecks", len(c.accounts)),
		slog.Int("vaultChecks", len(c.vaults)),
		slog.Int("writes", writes),
	)
	return c, nil
}

// commit flushes j into the engine state, as a single atomic write when the
// state supports it.
func (e *Engine) commit(j *journal) error {
	if atomic, ok := e.state.(atomicState); ok {
		return atomic.Atomically(j.commit)
	}
	return j.commit()
}

// single runs one operation in immediate mode: its status checks run when
// the operation returns.
func (e *Engine) single(ctx context.Context, caller crypto.Address, op Operation) (OpResult, error) {
	var res OpResult
	_, err := e.run(ctx, caller, false, func(c *callContext) error {
		var err error
		res, err = e.apply(c, op)
		return err
	})
	if err != nil {
		return OpResult{}, err
	}
	return res, nil
}

// RegisterVault creates a vault. A nil rate model selects the default kinked
// curve.
func (e *Engine) RegisterVault(ctx context.Context, cfg VaultConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	_, err := e.run(ctx, crypto.ZeroAddress, false, func(c *callContext) error {
		existing, err := c.state.GetVault(cfg.Address)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrVaultExists
		}
		return c.state.PutVault(cfg.vault(c.now))
	})
	if err != nil {
		return err
	}
	e.SetRateModel(cfg.Address, cfg.RateModel)
	return nil
}

// SetRateModel replaces a vault's rate model. Interest up to now is not
// re-priced; callers should Touch the vault first to settle it at the old
// rate.
func (e *Engine) SetRateModel(vault crypto.Address, model RateModel) {
	if e == nil {
		return
	}
	if im, ok := model.(*InterestModel); ok {
		model = im.Clone()
	}
	if model == nil {
		delete(e.rateModels, vault)
		return
	}
	e.rateModels[vault] = model
}

// SetLTV configures how much borrowing power collateral grants against
// liability. Setting both factors to zero removes the pair.
func (e *Engine) SetLTV(ctx context.Context, cfg LTVConfig) error {
	if err := validateLTV(cfg); err != nil {
		return err
	}
	_, err := e.run(ctx, crypto.ZeroAddress, false, func(c *callContext) error {
		for _, addr := range []crypto.Address{cfg.Liability, cfg.Collateral} {
			v, err := c.state.GetVault(addr)
			if err != nil {
				return err
			}
			if v == nil {
				return ErrUnknownVault
			}
		}
		return c.state.PutLTV(&cfg)
	})
	return err
}

// Fund credits underlying tokens to an account. It backs genesis allocations
// and faucets; vault cash is never changed by it.
func (e *Engine) Fund(ctx context.Context, asset, account crypto.Address, amount *uint256.Int) error {
	if asset.IsZero() || account.IsZero() {
		return ErrBadAddress
	}
	_, err := e.run(ctx, crypto.ZeroAddress, false, func(c *callContext) error {
		return bank.Mint(c.state, asset, account, amount)
	})
	return err
}

func (e *Engine) Deposit(ctx context.Context, caller, vault crypto.Address, assets *uint256.Int, receiver crypto.Address) (*uint256.Int, error) {
	res, err := e.single(ctx, caller, Operation{Kind: OpDeposit, Vault: vault, Amount: assets, Receiver: receiver})
	return res.Amount, err
}

func (e *Engine) Mint(ctx context.Context, caller, vault crypto.Address, shares *uint256.Int, receiver crypto.Address) (*uint256.Int, error) {
	res, err := e.single(ctx, caller, Operation{Kind: OpMint, Vault: vault, Amount: shares, Receiver: receiver})
	return res.Amount, err
}

func (e *Engine) Withdraw(ctx context.Context, caller, vault crypto.Address, assets *uint256.Int, receiver, owner crypto.Address) (*uint256.Int, error) {
	res, err := e.single(ctx, caller, Operation{Kind: OpWithdraw, Vault: vault, Amount: assets, Receiver: receiver, Owner: owner})
	return res.Amount, err
}

func (e *Engine) Redeem(ctx context.Context, caller, vault crypto.Address, shares *uint256.Int, receiver, owner crypto.Address) (*uint256.Int, error) {
	res, err := e.single(ctx, caller, Operation{Kind: OpRedeem, Vault: vault, Amount: shares, Receiver: receiver, Owner: owner})
	return res.Amount, err
}

func (e *Engine) Transfer(ctx context.Context, caller, vault, from, to crypto.Address, shares *uint256.Int) (*uint256.Int, error) {
	res, err := e.single(ctx, caller, Operation{Kind: OpTransfer, Vault: vault, From: from, To: to, Amount: shares})
	return res.Amount, err
}

func (e *Engine) Approve(ctx context.Context, caller, vault, spender crypto.Address, shares *uint256.Int) error {
	_, err := e.single(ctx, caller, Operation{Kind: OpApprove, Vault: vault, Spender: spender, Amount: shares})
	return err
}

func (e *Engine) Borrow(ctx context.Context, caller, vault crypto.Address, assets *uint256.Int, receiver crypto.Address) (*uint256.Int, error) {
	res, err := e.single(ctx, caller, Operation{Kind: OpBorrow, Vault: vault, Amount: assets, Receiver: receiver})
	return res.Amount, err
}

func (e *Engine) Repay(ctx context.Context, caller, vault crypto.Address, assets *uint256.Int, account crypto.Address) (*uint256.Int, error) {
	res, err := e.single(ctx, caller, Operation{Kind: OpRepay, Vault: vault, Amount: assets, Account: account})
	return res.Amount, err
}

func (e *Engine) PullDebt(ctx context.Context, caller, vault crypto.Address, assets *uint256.Int, from crypto.Address) (*uint256.Int, error) {
	res, err := e.single(ctx, caller, Operation{Kind: OpPullDebt, Vault: vault, Amount: assets, From: from})
	return res.Amount, err
}

// Loop mints shares to receiver and the same value of debt to the caller.
// It returns the shares minted.
func (e *Engine) Loop(ctx context.Context, caller, vault crypto.Address, assets *uint256.Int, receiver crypto.Address) (*uint256.Int, error) {
	res, err := e.single(ctx, caller, Operation{Kind: OpLoop, Vault: vault, Amount: assets, Receiver: receiver})
	return res.Amount, err
}

// Deloop burns the caller's shares to repay account's debt. It returns the
// shares burned.
func (e *Engine) Deloop(ctx context.Context, caller, vault crypto.Address, assets *uint256.Int, account crypto.Address) (*uint256.Int, error) {
	res, err := e.single(ctx, caller, Operation{Kind: OpDeloop, Vault: vault, Amount: assets, Account: account})
	return res.Amount, err
}

func (e *Engine) EnableCollateral(ctx context.Context, caller, account, vault crypto.Address) error {
	_, err := e.single(ctx, caller, Operation{Kind: OpEnableCollateral, Account: account, Vault: vault})
	return err
}

func (e *Engine) DisableCollateral(ctx context.Context, caller, account, vault crypto.Address) error {
	_, err := e.single(ctx, caller, Operation{Kind: OpDisableCollateral, Account: account, Vault: vault})
	return err
}

func (e *Engine) EnableController(ctx context.Context, caller, account, vault crypto.Address) error {
	_, err := e.single(ctx, caller, Operation{Kind: OpEnableController, Account: account, Vault: vault})
	return err
}

func (e *Engine) DisableController(ctx context.Context, caller, account, vault crypto.Address) error {
	_, err := e.single(ctx, caller, Operation{Kind: OpDisableController, Account: account, Vault: vault})
	return err
}

// Liquidate takes over up to repay of violator's debt in vault and seizes the
// matching collateral shares. It returns the debt assumed and shares seized.
func (e *Engine) Liquidate(ctx context.Context, caller, vault, violator, collateral crypto.Address, repay, minYield *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	res, err := e.single(ctx, caller, Operation{
		Kind: OpLiquidate, Vault: vault, Violator: violator, Collateral: collateral, Amount: repay, MinYield: minYield,
	})
	return res.Amount, res.Yield, err
}

// ConvertFees moves accumulated fee shares to the vault's fee receiver.
func (e *Engine) ConvertFees(ctx context.Context, caller, vault crypto.Address) (*uint256.Int, error) {
	res, err := e.single(ctx, caller, Operation{Kind: OpConvertFees, Vault: vault})
	return res.Amount, err
}

// Touch persists the vault's accrued interest.
func (e *Engine) Touch(ctx context.Context, caller, vault crypto.Address) error {
	_, err := e.single(ctx, caller, Operation{Kind: OpTouch, Vault: vault})
	return err
}

func (e *Engine) convertFees(c *callContext, op Operation) (OpResult, error) {
	v, err := e.loadVault(c.view(), op.Vault)
	if err != nil {
		return OpResult{}, err
	}
	fees := cloneInt(v.AccumulatedFees)
	if fees.IsZero() || v.FeeReceiver.IsZero() {
		return OpResult{Kind: OpConvertFees, Amount: zero()}, c.state.PutVault(v)
	}
	pos, err := e.loadPosition(c.view(), v, v.FeeReceiver)
	if err != nil {
		return OpResult{}, err
	}
	pos.Shares.Add(pos.Shares, fees)
	v.AccumulatedFees = zero()
	if err := c.state.PutPosition(pos); err != nil {
		return OpResult{}, err
	}
	if err := c.state.PutVault(v); err != nil {
		return OpResult{}, err
	}
	c.emit(OpConvertFees, map[string]string{"vault": v.Address.Hex(), "receiver": v.FeeReceiver.Hex(), "shares": fees.Dec()})
	return OpResult{Kind: OpConvertFees, Amount: fees}, nil
}

func (e *Engine) touch(c *callContext, op Operation) (OpResult, error) {
	v, err := e.loadVault(c.view(), op.Vault)
	if err != nil {
		return OpResult{}, err
	}
	return OpResult{Kind: OpTouch}, c.state.PutVault(v)
}
