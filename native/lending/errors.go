package lending

import (
	"errors"
	"fmt"
)

// Error is a ledger failure carrying a stable identifier that callers can
// branch on.
type Error struct {
	code    string
	message string
}

func newError(code, message string) *Error {
	return &Error{code: code, message: message}
}

func (e *Error) Error() string { return "lending: " + e.message }

// Code returns the stable identifier, e.g. "E_AccountLiquidity".
func (e *Error) Code() string { return e.code }

// ErrorCode extracts the identifier of the first ledger error in err's chain.
// Collaborator failures have no code and yield an empty string.
func ErrorCode(err error) string {
	var target *Error
	if errors.As(err, &target) {
		return target.code
	}
	return ""
}

var (
	// input validation
	ErrNilState        = newError("E_NilState", "state not configured")
	ErrNilOracle       = newError("E_NilOracle", "price oracle not configured")
	ErrBadAddress      = newError("E_BadAddress", "address must be set")
	ErrUnknownVault    = newError("E_UnknownVault", "vault not registered")
	ErrVaultExists     = newError("E_VaultExists", "vault already registered")
	ErrTooManyDecimals = newError("E_TooManyDecimals", "asset decimals exceed 18")
	ErrInvalidLTV      = newError("E_InvalidLTV", "invalid loan-to-value configuration")
	ErrInvalidLTVAsset = newError("E_InvalidLTVAsset", "collateral cannot be the liability vault")
	ErrInvalidFee      = newError("E_InvalidFee", "interest fee exceeds 100%")
	ErrBadOperation    = newError("E_BadOperation", "malformed batch operation")
	ErrBatchTooLarge   = newError("E_BatchTooLarge", "batch exceeds maximum size")
	ErrAmountOverflow  = newError("E_AmountTooLargeToEncode", "amount overflows 256 bits")
	ErrDivisionByZero  = newError("E_DivisionByZero", "division by zero")

	// insufficiency
	ErrZeroShares            = newError("E_ZeroShares", "operation yields zero shares")
	ErrZeroAssets            = newError("E_ZeroAssets", "operation yields zero assets")
	ErrInsufficientBalance   = newError("E_InsufficientBalance", "insufficient share balance")
	ErrInsufficientCash      = newError("E_InsufficientCash", "insufficient vault cash")
	ErrInsufficientAllowance = newError("E_InsufficientAllowance", "insufficient share allowance")
	ErrInsufficientDebt      = newError("E_InsufficientDebt", "amount exceeds outstanding debt")
	ErrRepayTooMuch          = newError("E_RepayTooMuch", "repay amount exceeds debt")

	// authorization
	ErrUnauthorized        = newError("E_Unauthorized", "caller is not the account owner")
	ErrControllerDisabled  = newError("E_ControllerDisabled", "vault is not an enabled controller")
	ErrControllerViolation = newError("E_ControllerViolation", "account has more than one controller")
	ErrOutstandingDebt     = newError("E_OutstandingDebt", "controller has outstanding debt")
	ErrTooManyCollaterals  = newError("E_TooManyCollaterals", "collateral set is full")
	ErrOperationDisabled   = newError("E_OperationDisabled", "operation paused")
	ErrSelfTransfer        = newError("E_SelfTransfer", "source and destination are the same account")
	ErrSelfApproval        = newError("E_SelfApproval", "owner cannot approve itself")
	ErrReentrancy          = newError("E_Reentrancy", "engine call already in progress")

	// solvency
	ErrAccountLiquidity          = newError("E_AccountLiquidity", "account collateral does not cover liability")
	ErrNoLiability               = newError("E_NoLiability", "account has no controller")
	ErrExcessiveRepayAmount      = newError("E_ExcessiveRepayAmount", "repay amount exceeds liquidation maximum")
	ErrSelfLiquidation           = newError("E_SelfLiquidation", "liquidator cannot liquidate itself")
	ErrBadCollateral             = newError("E_BadCollateral", "collateral not accepted by the liability vault")
	ErrCollateralDisabled        = newError("E_CollateralDisabled", "collateral not enabled by the violator")
	ErrViolatorLiquidityDeferred = newError("E_ViolatorLiquidityDeferred", "violator status check is deferred")
	ErrMinYield                  = newError("E_MinYield", "liquidation yield below minimum")
	ErrSupplyCapExceeded         = newError("E_SupplyCapExceeded", "supply cap exceeded")
	ErrBorrowCapExceeded         = newError("E_BorrowCapExceeded", "borrow cap exceeded")
)

// BatchError reports which batch item failed. The failing item's error stays
// reachable through errors.Is and errors.As.
type BatchError struct {
	Index int
	Op    OpKind
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch item %d (%s): %v", e.Index, e.Op, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// StatusCheckError reports the account or vault whose deferred status check
// failed.
type StatusCheckError struct {
	Vault   bool
	Address string
	Err     error
}

func (e *StatusCheckError) Error() string {
	kind := "account"
	if e.Vault {
		kind = "vault"
	}
	return fmt.Sprintf("%s %s status check: %v", kind, e.Address, e.Err)
}

func (e *StatusCheckError) Unwrap() error { return e.Err }
