package lending

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vaultledger/core/types"
	"vaultledger/crypto"
)

// OpKind names a batchable operation.
type OpKind string

const (
	OpDeposit           OpKind = "deposit"
	OpMint              OpKind = "mint"
	OpWithdraw          OpKind = "withdraw"
	OpRedeem            OpKind = "redeem"
	OpTransfer          OpKind = "transfer"
	OpApprove           OpKind = "approve"
	OpBorrow            OpKind = "borrow"
	OpRepay             OpKind = "repay"
	OpPullDebt          OpKind = "pullDebt"
	OpLoop              OpKind = "loop"
	OpDeloop            OpKind = "deloop"
	OpEnableCollateral  OpKind = "enableCollateral"
	OpDisableCollateral OpKind = "disableCollateral"
	OpEnableController  OpKind = "enableController"
	OpDisableController OpKind = "disableController"
	OpLiquidate         OpKind = "liquidate"
	OpConvertFees       OpKind = "convertFees"
	OpTouch             OpKind = "touch"
	OpBatch             OpKind = "batch"
)

// Operation is one batch item. Which fields are read depends on Kind; unset
// Receiver, Owner, Account and From default to the caller where the
// operation accepts them.
type Operation struct {
	Kind       OpKind
	Vault      crypto.Address
	Amount     *uint256.Int
	Receiver   crypto.Address
	Owner      crypto.Address
	Account    crypto.Address
	From       crypto.Address
	To         crypto.Address
	Spender    crypto.Address
	Violator   crypto.Address
	Collateral crypto.Address
	MinYield   *uint256.Int
	// Items holds the nested operations of an OpBatch.
	Items []Operation
}

// OpResult is the primary amount an operation produced: shares minted by
// deposit, assets paid for mint, shares burned by withdraw, assets paid by
// redeem, shares minted or burned by loop and deloop, and the asset amount
// for other debt operations. Liquidations also report
// the collateral shares seized.
type OpResult struct {
	Kind   OpKind
	Amount *uint256.Int
	Yield  *uint256.Int
	Items  []OpResult
}

// BatchResult is returned by a committed batch.
type BatchResult struct {
	Results []OpResult
	Events  []types.Event
}

// CheckResult is the outcome of one status check in a simulation.
type CheckResult struct {
	Address crypto.Address
	Err     error
}

// SimulationResult reports what a batch would do. Items run independently: a
// failed item is skipped and the rest still execute.
type SimulationResult struct {
	Results       []OpResult
	Errors        []error
	AccountChecks []CheckResult
	VaultChecks   []CheckResult
	Events        []types.Event
}

// Failed reports whether committing the batch would fail.
func (s *SimulationResult) Failed() bool {
	for _, err := range s.Errors {
		if err != nil {
			return true
		}
	}
	for _, checks := range [][]CheckResult{s.AccountChecks, s.VaultChecks} {
		for _, check := range checks {
			if check.Err != nil {
				return true
			}
		}
	}
	return false
}

var tracer trace.Tracer = otel.Tracer("vaultledger/native/lending")

// Execute applies ops in order as one atomic call. Status checks for every
// account and vault the batch touched run once, after the last item, so
// intermediate states may be unhealthy. Any failure discards the whole batch.
func (e *Engine) Execute(ctx context.Context, caller crypto.Address, ops []Operation) (*BatchResult, error) {
	ctx, span := tracer.Start(ctx, "lending.Execute", trace.WithAttributes(
		attribute.String("caller", caller.Hex()),
		attribute.Int("items", countOps(ops)),
	))
	defer span.End()

	var results []OpResult
	c, err := e.run(ctx, caller, true, func(c *callContext) error {
		if err := e.checkBatchSize(ops); err != nil {
			return err
		}
		var err error
		results, err = e.applyBatch(c, ops)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorCode(err))
		return nil, err
	}
	return &BatchResult{Results: results, Events: c.events}, nil
}

// Simulate runs ops like Execute but never commits. Every item runs against
// the state left by the successful items before it, and every status check is
// evaluated and reported instead of aborting the call.
func (e *Engine) Simulate(ctx context.Context, caller crypto.Address, ops []Operation) (*SimulationResult, error) {
	ctx, span := tracer.Start(ctx, "lending.Simulate", trace.WithAttributes(
		attribute.String("caller", caller.Hex()),
		attribute.Int("items", countOps(ops)),
	))
	defer span.End()

	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.busy {
		return nil, ErrReentrancy
	}
	if err := e.checkBatchSize(ops); err != nil {
		return nil, err
	}
	e.busy = true
	defer func() { e.busy = false }()

	c := newCallContext(ctx, caller, e.timestamp(), newJournal(e.state), true)
	out := &SimulationResult{
		Results: make([]OpResult, len(ops)),
		Errors:  make([]error, len(ops)),
	}
	parent := c.state
	for i, op := range ops {
		sp := c.savepoint()
		c.state = newJournal(parent)
		res, err := e.apply(c, op)
		if err == nil {
			err = c.state.commit()
		}
		if err != nil {
			c.restore(sp)
			out.Errors[i] = &BatchError{Index: i, Op: op.Kind, Err: err}
		} else {
			out.Results[i] = res
		}
		c.state = parent
	}

	r := c.view()
	for _, account := range c.accounts {
		out.AccountChecks = append(out.AccountChecks, CheckResult{Address: account, Err: e.checkAccountStatus(r, account)})
	}
	for _, vault := range c.vaults {
		out.VaultChecks = append(out.VaultChecks, CheckResult{Address: vault, Err: e.checkVaultStatus(r, vault, c.snapshots[vault])})
	}
	out.Events = c.events
	span.SetAttributes(attribute.Bool("failed", out.Failed()))
	return out, nil
}

func (e *Engine) applyBatch(c *callContext, ops []Operation) ([]OpResult, error) {
	results := make([]OpResult, 0, len(ops))
	for i, op := range ops {
		res, err := e.apply(c, op)
		if err != nil {
			return nil, &BatchError{Index: i, Op: op.Kind, Err: err}
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) apply(c *callContext, op Operation) (OpResult, error) {
	if op.Kind != OpBatch {
		if op.Vault.IsZero() {
			return OpResult{}, ErrBadAddress
		}
		if op.Amount == nil {
			op.Amount = zero()
		}
	}
	switch op.Kind {
	case OpDeposit:
		return e.deposit(c, op)
	case OpMint:
		return e.mint(c, op)
	case OpWithdraw:
		return e.withdraw(c, op)
	case OpRedeem:
		return e.redeem(c, op)
	case OpTransfer:
		return e.transfer(c, op)
	case OpApprove:
		return e.approve(c, op)
	case OpBorrow:
		return e.borrow(c, op)
	case OpRepay:
		return e.repay(c, op)
	case OpPullDebt:
		return e.pullDebt(c, op)
	case OpLoop:
		return e.loop(c, op)
	case OpDeloop:
		return e.deloop(c, op)
	case OpEnableCollateral:
		return e.enableCollateral(c, op)
	case OpDisableCollateral:
		return e.disableCollateral(c, op)
	case OpEnableController:
		return e.enableController(c, op)
	case OpDisableController:
		return e.disableController(c, op)
	case OpLiquidate:
		return e.liquidate(c, op)
	case OpConvertFees:
		return e.convertFees(c, op)
	case OpTouch:
		return e.touch(c, op)
	case OpBatch:
		// A nested batch shares the enclosing call's pending checks.
		items, err := e.applyBatch(c, op.Items)
		if err != nil {
			return OpResult{}, err
		}
		return OpResult{Kind: OpBatch, Items: items}, nil
	default:
		return OpResult{}, fmt.Errorf("%w: unknown operation %q", ErrBadOperation, op.Kind)
	}
}

func (e *Engine) checkBatchSize(ops []Operation) error {
	if n := countOps(ops); n > e.params.MaxBatchSize {
		return fmt.Errorf("%w: %d items, limit %d", ErrBatchTooLarge, n, e.params.MaxBatchSize)
	}
	return nil
}

func countOps(ops []Operation) int {
	n := 0
	for _, op := range ops {
		n++
		if op.Kind == OpBatch {
			n += countOps(op.Items)
		}
	}
	return n
}
