package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"vaultledger/crypto"
)

// PriceStatus captures the health classification assigned to an oracle quote.
type PriceStatus string

const (
	// PriceStatusOK indicates the quote passed all configured guardrails.
	PriceStatusOK PriceStatus = "ok"
	// PriceStatusStale signals the quote exceeded the configured freshness window.
	PriceStatusStale PriceStatus = "stale"
	// PriceStatusDeviant indicates the quote deviated from the reference price.
	PriceStatusDeviant PriceStatus = "deviant"
)

const bpsDenominator = 10_000

var (
	ErrUnsupportedPair = errors.New("pricing: unsupported pair")
	ErrStalePrice      = errors.New("pricing: stale price")
	ErrDeviantPrice    = errors.New("pricing: price deviates from reference")
	ErrInvalidPrice    = errors.New("pricing: invalid price")
)

// Guard configures the freshness and deviation guardrails applied to every
// quote. Zero values disable the corresponding check.
type Guard struct {
	MaxAgeSeconds   uint32
	MaxDeviationBps uint32
}

// Observation is the latest price recorded for an asset.
type Observation struct {
	// Price is the value of one whole token, expressed in base units of the
	// unit of account.
	Price *uint256.Int
	// Reference is an optional slow-moving price (for example a TWAP) the
	// spot price is compared against.
	Reference *uint256.Int
	Decimals  uint8
	SpreadBps uint32
	UpdatedAt time.Time
}

// Quote summarises the guarded state of an asset's price.
type Quote struct {
	Price      *uint256.Int
	AgeSeconds uint32
	Status     PriceStatus
}

// Feed is an in-memory price oracle valuing assets in a single unit of
// account. It is safe for concurrent use.
type Feed struct {
	mu     sync.RWMutex
	unit   crypto.Address
	guard  Guard
	assets map[crypto.Address]Observation
	now    func() time.Time
}

// NewFeed constructs an empty feed quoting in unit.
func NewFeed(unit crypto.Address, guard Guard) *Feed {
	return &Feed{
		unit:   unit,
		guard:  guard,
		assets: make(map[crypto.Address]Observation),
		now:    time.Now,
	}
}

// SetClock overrides the clock used for staleness checks.
func (f *Feed) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	f.now = now
}

// SetObservation records the price of asset. A zero UpdatedAt is stamped with
// the feed's clock.
func (f *Feed) SetObservation(asset crypto.Address, obs Observation) error {
	if obs.Price == nil || obs.Price.IsZero() {
		return ErrInvalidPrice
	}
	if obs.Decimals > 36 {
		return fmt.Errorf("pricing: decimals %d out of range", obs.Decimals)
	}
	if obs.SpreadBps >= bpsDenominator {
		return fmt.Errorf("pricing: spread %d bps out of range", obs.SpreadBps)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := obs
	stored.Price = new(uint256.Int).Set(obs.Price)
	if obs.Reference != nil {
		stored.Reference = new(uint256.Int).Set(obs.Reference)
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = f.now()
	}
	stored.UpdatedAt = stored.UpdatedAt.UTC()
	f.assets[asset] = stored
	return nil
}

// SetPrice updates the spot price of an already configured asset.
func (f *Feed) SetPrice(asset crypto.Address, price *uint256.Int) error {
	if price == nil || price.IsZero() {
		return ErrInvalidPrice
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	obs, ok := f.assets[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedPair, asset.Hex())
	}
	obs.Price = new(uint256.Int).Set(price)
	obs.UpdatedAt = f.now().UTC()
	f.assets[asset] = obs
	return nil
}

// Assets lists the configured assets.
func (f *Feed) Assets() []crypto.Address {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]crypto.Address, 0, len(f.assets))
	for addr := range f.assets {
		out = append(out, addr)
	}
	return out
}

// Status resolves the guarded quote for one whole token of asset.
func (f *Feed) Status(asset crypto.Address) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	obs, ok := f.assets[asset]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnsupportedPair, asset.Hex())
	}
	return f.classify(obs), nil
}

func (f *Feed) classify(obs Observation) Quote {
	age := computeAgeSeconds(obs.UpdatedAt, f.now())
	status := PriceStatusOK
	if f.guard.MaxAgeSeconds > 0 && age > f.guard.MaxAgeSeconds {
		status = PriceStatusStale
	}
	if status != PriceStatusStale && f.guard.MaxDeviationBps > 0 && obs.Reference != nil {
		if deviatesBeyondThreshold(obs.Price, obs.Reference, f.guard.MaxDeviationBps) {
			status = PriceStatusDeviant
		}
	}
	return Quote{Price: new(uint256.Int).Set(obs.Price), AgeSeconds: age, Status: status}
}

// GetQuote values amount of base in quote at the mid price.
func (f *Feed) GetQuote(ctx context.Context, amount *uint256.Int, base, quote crypto.Address) (*uint256.Int, error) {
	mid, _, err := f.value(ctx, amount, base, quote)
	return mid, err
}

// GetQuotes values amount of base in quote on the bid and ask sides of the
// configured spread.
func (f *Feed) GetQuotes(ctx context.Context, amount *uint256.Int, base, quote crypto.Address) (*uint256.Int, *uint256.Int, error) {
	mid, spread, err := f.value(ctx, amount, base, quote)
	if err != nil {
		return nil, nil, err
	}
	if spread == 0 {
		return mid, new(uint256.Int).Set(mid), nil
	}
	bid, _ := new(uint256.Int).MulDivOverflow(mid, uint256.NewInt(uint64(bpsDenominator-spread)), uint256.NewInt(bpsDenominator))
	askFactor := uint256.NewInt(uint64(bpsDenominator + spread))
	ask, overflow := new(uint256.Int).MulDivOverflow(mid, askFactor, uint256.NewInt(bpsDenominator))
	if overflow {
		return nil, nil, fmt.Errorf("pricing: ask for %s overflows", base.Hex())
	}
	if !new(uint256.Int).MulMod(mid, askFactor, uint256.NewInt(bpsDenominator)).IsZero() {
		ask.AddUint64(ask, 1)
	}
	return bid, ask, nil
}

func (f *Feed) value(ctx context.Context, amount *uint256.Int, base, quote crypto.Address) (*uint256.Int, uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	if base == quote {
		return new(uint256.Int).Set(amount), 0, nil
	}
	if quote != f.unit {
		return nil, 0, fmt.Errorf("%w: %s/%s", ErrUnsupportedPair, base.Hex(), quote.Hex())
	}
	f.mu.RLock()
	obs, ok := f.assets[base]
	var q Quote
	if ok {
		q = f.classify(obs)
	}
	f.mu.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s/%s", ErrUnsupportedPair, base.Hex(), quote.Hex())
	}
	switch q.Status {
	case PriceStatusStale:
		return nil, 0, fmt.Errorf("%w: %s is %ds old", ErrStalePrice, base.Hex(), q.AgeSeconds)
	case PriceStatusDeviant:
		return nil, 0, fmt.Errorf("%w: %s", ErrDeviantPrice, base.Hex())
	}
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(obs.Decimals)))
	out, overflow := new(uint256.Int).MulDivOverflow(amount, q.Price, scale)
	if overflow {
		return nil, 0, fmt.Errorf("pricing: value of %s overflows", base.Hex())
	}
	return out, obs.SpreadBps, nil
}

func computeAgeSeconds(observed, now time.Time) uint32 {
	if observed.IsZero() || now.IsZero() {
		return math.MaxUint32
	}
	observed = observed.UTC()
	now = now.UTC()
	if observed.After(now) {
		return 0
	}
	seconds := now.Sub(observed) / time.Second
	if seconds <= 0 {
		return 0
	}
	if seconds > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(seconds)
}

func deviatesBeyondThreshold(spot, average *uint256.Int, thresholdBps uint32) bool {
	if spot == nil || average == nil || average.IsZero() {
		return false
	}
	diff := new(big.Rat).SetInt(spot.ToBig())
	diff.Sub(diff, new(big.Rat).SetInt(average.ToBig()))
	if diff.Sign() < 0 {
		diff.Neg(diff)
	}
	if diff.Sign() == 0 {
		return false
	}
	ratio := new(big.Rat).Quo(diff, new(big.Rat).SetInt(average.ToBig()))
	ratio.Mul(ratio, big.NewRat(bpsDenominator, 1))
	threshold := big.NewRat(int64(thresholdBps), 1)
	return ratio.Cmp(threshold) == 1
}
