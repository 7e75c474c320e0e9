package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"vaultledger/core/pricing"
	ledger "vaultledger/native/lending"
)

const (
	codeBadRequest = "E_BadRequest"
	codeInternal   = "E_Internal"
	codeNotFound   = "E_NotFound"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Path locates the failing batch item; nested batches add one index
	// per level.
	Path  []int        `json:"path,omitempty"`
	Check *failedCheck `json:"check,omitempty"`
}

type failedCheck struct {
	Kind    string `json:"kind"`
	Address string `json:"address"`
}

var pricingCodes = []struct {
	err  error
	code string
}{
	{pricing.ErrStalePrice, "E_StalePrice"},
	{pricing.ErrDeviantPrice, "E_DeviantPrice"},
	{pricing.ErrUnsupportedPair, "E_UnsupportedPair"},
	{pricing.ErrInvalidPrice, "E_InvalidPrice"},
}

var statusByCode = map[string]int{
	codeBadRequest:                   http.StatusBadRequest,
	ledger.ErrUnknownVault.Code():    http.StatusNotFound,
	ledger.ErrBadAddress.Code():      http.StatusBadRequest,
	ledger.ErrBadOperation.Code():    http.StatusBadRequest,
	ledger.ErrBatchTooLarge.Code():   http.StatusBadRequest,
	ledger.ErrAmountOverflow.Code():  http.StatusBadRequest,
	ledger.ErrTooManyDecimals.Code(): http.StatusBadRequest,
	ledger.ErrInvalidLTV.Code():      http.StatusBadRequest,
	ledger.ErrInvalidLTVAsset.Code(): http.StatusBadRequest,
	ledger.ErrInvalidFee.Code():      http.StatusBadRequest,
	ledger.ErrUnauthorized.Code():    http.StatusForbidden,
	ledger.ErrVaultExists.Code():     http.StatusConflict,
	ledger.ErrReentrancy.Code():      http.StatusConflict,
	ledger.ErrNilState.Code():        http.StatusInternalServerError,
	ledger.ErrNilOracle.Code():       http.StatusInternalServerError,
}

// describeError renders err as the JSON error envelope. Errors without a
// ledger, pricing or request code are reported as internal without their
// message.
func describeError(err error) errorBody {
	body := errorBody{Code: errorCode(err), Message: err.Error()}
	if body.Code == codeInternal {
		body.Message = "internal error"
	}
	var batchErr *ledger.BatchError
	for target := err; errors.As(target, &batchErr); target = batchErr.Err {
		body.Path = append(body.Path, batchErr.Index)
	}
	var checkErr *ledger.StatusCheckError
	if errors.As(err, &checkErr) {
		kind := "account"
		if checkErr.Vault {
			kind = "vault"
		}
		body.Check = &failedCheck{Kind: kind, Address: checkErr.Address}
	}
	return body
}

func errorCode(err error) string {
	if code := ledger.ErrorCode(err); code != "" {
		return code
	}
	for _, entry := range pricingCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	var reqErr *badRequestError
	if errors.As(err, &reqErr) {
		return codeBadRequest
	}
	return codeInternal
}

// statusFor maps an error code to its HTTP status. Ledger and pricing
// rejections that are not listed are business rule failures.
func statusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	if code == codeInternal {
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}

func writeError(w http.ResponseWriter, err error) {
	body := describeError(err)
	writeJSON(w, statusFor(body.Code), body)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
