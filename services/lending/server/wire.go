package server

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"vaultledger/core/types"
	"vaultledger/crypto"
	ledger "vaultledger/native/lending"
)

// maxAmountLiteral selects the whole available balance.
const maxAmountLiteral = "max"

type wireOp struct {
	Kind       string   `json:"kind"`
	Vault      string   `json:"vault,omitempty"`
	Amount     string   `json:"amount,omitempty"`
	Receiver   string   `json:"receiver,omitempty"`
	Owner      string   `json:"owner,omitempty"`
	Account    string   `json:"account,omitempty"`
	From       string   `json:"from,omitempty"`
	To         string   `json:"to,omitempty"`
	Spender    string   `json:"spender,omitempty"`
	Violator   string   `json:"violator,omitempty"`
	Collateral string   `json:"collateral,omitempty"`
	MinYield   string   `json:"minYield,omitempty"`
	Items      []wireOp `json:"items,omitempty"`
}

type batchRequest struct {
	// Caller is required when authentication is disabled and must match
	// the token subject otherwise.
	Caller string   `json:"caller,omitempty"`
	Ops    []wireOp `json:"ops"`
}

type wireResult struct {
	Kind   string       `json:"kind"`
	Amount string       `json:"amount,omitempty"`
	Yield  string       `json:"yield,omitempty"`
	Items  []wireResult `json:"items,omitempty"`
}

type batchResponse struct {
	Results []wireResult  `json:"results"`
	Events  []types.Event `json:"events"`
}

type wireCheck struct {
	Address string     `json:"address"`
	Error   *errorBody `json:"error,omitempty"`
}

type simulateResponse struct {
	Failed        bool          `json:"failed"`
	Results       []*wireResult `json:"results"`
	Errors        []*errorBody  `json:"errors"`
	AccountChecks []wireCheck   `json:"accountChecks"`
	VaultChecks   []wireCheck   `json:"vaultChecks"`
	Events        []types.Event `json:"events"`
}

// badRequestError marks request decoding failures.
type badRequestError struct {
	field string
	err   error
}

func (e *badRequestError) Error() string {
	return fmt.Sprintf("%s: %v", e.field, e.err)
}

func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(field string, format string, args ...any) error {
	return &badRequestError{field: field, err: fmt.Errorf(format, args...)}
}

// resolver maps configured vault names and asset symbols to ledger
// addresses. Raw hex or bech32 addresses are always accepted.
type resolver struct {
	vaults      map[string]crypto.Address
	assets      map[string]crypto.Address
	vaultNames  map[crypto.Address]string
	assetSymbol map[crypto.Address]string
}

func newResolver() *resolver {
	return &resolver{
		vaults:      make(map[string]crypto.Address),
		assets:      make(map[string]crypto.Address),
		vaultNames:  make(map[crypto.Address]string),
		assetSymbol: make(map[crypto.Address]string),
	}
}

func (r *resolver) addVault(name string, addr crypto.Address) {
	r.vaults[name] = addr
	r.vaultNames[addr] = name
}

func (r *resolver) addAsset(symbol string, addr crypto.Address) {
	r.assets[symbol] = addr
	r.assetSymbol[addr] = symbol
}

func (r *resolver) vault(field, value string) (crypto.Address, error) {
	if addr, ok := r.vaults[strings.TrimSpace(value)]; ok {
		return addr, nil
	}
	return parseAddress(field, value)
}

func (r *resolver) asset(field, value string) (crypto.Address, error) {
	if addr, ok := r.assets[strings.TrimSpace(value)]; ok {
		return addr, nil
	}
	return parseAddress(field, value)
}

func parseAddress(field, value string) (crypto.Address, error) {
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return crypto.Address{}, &badRequestError{field: field, err: err}
	}
	return addr, nil
}

// optionalAddress leaves the address unset when value is empty so the
// ledger applies its caller default.
func optionalAddress(field, value string) (crypto.Address, error) {
	if strings.TrimSpace(value) == "" {
		return crypto.Address{}, nil
	}
	return parseAddress(field, value)
}

func parseAmount(field, value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if strings.EqualFold(trimmed, maxAmountLiteral) {
		return new(uint256.Int).Set(ledger.MaxAmount), nil
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, badRequest(field, "invalid amount %q", value)
	}
	return amount, nil
}

func (r *resolver) operations(prefix string, ops []wireOp) ([]ledger.Operation, error) {
	out := make([]ledger.Operation, 0, len(ops))
	for i, op := range ops {
		converted, err := r.operation(fmt.Sprintf("%s[%d]", prefix, i), op)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return out, nil
}

func (r *resolver) operation(field string, op wireOp) (ledger.Operation, error) {
	kind := ledger.OpKind(strings.TrimSpace(op.Kind))
	if kind == "" {
		return ledger.Operation{}, badRequest(field+".kind", "required")
	}
	out := ledger.Operation{Kind: kind}
	if kind == ledger.OpBatch {
		if len(op.Items) == 0 {
			return ledger.Operation{}, badRequest(field+".items", "nested batch requires items")
		}
		items, err := r.operations(field+".items", op.Items)
		if err != nil {
			return ledger.Operation{}, err
		}
		out.Items = items
		return out, nil
	}

	var err error
	if out.Vault, err = r.vault(field+".vault", op.Vault); err != nil {
		return ledger.Operation{}, err
	}
	if strings.TrimSpace(op.Collateral) != "" {
		if out.Collateral, err = r.vault(field+".collateral", op.Collateral); err != nil {
			return ledger.Operation{}, err
		}
	}
	if out.Amount, err = parseAmount(field+".amount", op.Amount); err != nil {
		return ledger.Operation{}, err
	}
	if out.MinYield, err = parseAmount(field+".minYield", op.MinYield); err != nil {
		return ledger.Operation{}, err
	}
	addresses := []struct {
		name  string
		value string
		dst   *crypto.Address
	}{
		{"receiver", op.Receiver, &out.Receiver},
		{"owner", op.Owner, &out.Owner},
		{"account", op.Account, &out.Account},
		{"from", op.From, &out.From},
		{"to", op.To, &out.To},
		{"spender", op.Spender, &out.Spender},
		{"violator", op.Violator, &out.Violator},
	}
	for _, a := range addresses {
		if *a.dst, err = optionalAddress(field+"."+a.name, a.value); err != nil {
			return ledger.Operation{}, err
		}
	}
	return out, nil
}

func encodeAmount(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}

func encodeResult(res ledger.OpResult) wireResult {
	out := wireResult{Kind: string(res.Kind), Amount: encodeAmount(res.Amount), Yield: encodeAmount(res.Yield)}
	for _, item := range res.Items {
		out.Items = append(out.Items, encodeResult(item))
	}
	return out
}

func encodeResults(results []ledger.OpResult) []wireResult {
	out := make([]wireResult, 0, len(results))
	for _, res := range results {
		out = append(out, encodeResult(res))
	}
	return out
}

func encodeEvents(events []types.Event) []types.Event {
	if events == nil {
		return []types.Event{}
	}
	return events
}

func encodeSimulation(sim *ledger.SimulationResult) simulateResponse {
	out := simulateResponse{
		Failed:        sim.Failed(),
		Results:       make([]*wireResult, len(sim.Results)),
		Errors:        make([]*errorBody, len(sim.Errors)),
		AccountChecks: encodeChecks(sim.AccountChecks),
		VaultChecks:   encodeChecks(sim.VaultChecks),
		Events:        encodeEvents(sim.Events),
	}
	for i, err := range sim.Errors {
		if err != nil {
			body := describeError(err)
			out.Errors[i] = &body
			continue
		}
		res := encodeResult(sim.Results[i])
		out.Results[i] = &res
	}
	return out
}

func encodeChecks(checks []ledger.CheckResult) []wireCheck {
	out := make([]wireCheck, 0, len(checks))
	for _, check := range checks {
		entry := wireCheck{Address: check.Address.Hex()}
		if check.Err != nil {
			body := describeError(check.Err)
			entry.Error = &body
		}
		out = append(out, entry)
	}
	return out
}
