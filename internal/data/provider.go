// Package data supplies option-chain snapshots to the volatility pipeline and
// turns them into per-expiration ATM observations.
package data

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/contactkeval/event-vol/internal/logger"
)

// ErrNoData is returned when a provider has nothing for the request.
var ErrNoData = errors.New("no option data")

// Quote is one option contract as seen on the snapshot date.
type Quote struct {
	Expiration        time.Time `json:"expiration"`
	Strike            float64   `json:"strike"`
	OptionType        string    `json:"option_type"` // "call" or "put"
	Bid               float64   `json:"bid"`
	Ask               float64   `json:"ask"`
	Volume            float64   `json:"volume"`
	ImpliedVolatility float64   `json:"implied_volatility"` // NaN when the source has none
}

// Mid returns the bid/ask midpoint.
func (q Quote) Mid() float64 { return 0.5 * (q.Bid + q.Ask) }

// IsCall reports whether the quote is a call.
func (q Quote) IsCall() bool {
	t := strings.ToLower(q.OptionType)
	return t == "call" || t == "c"
}

// Chain is the option chain of one underlying on one date.
type Chain struct {
	Underlying string
	Spot       float64
	AsOf       time.Time
	Quotes     []Quote
}

// Expirations returns the distinct expirations in ascending order.
func (c Chain) Expirations() []time.Time {
	seen := map[string]time.Time{}
	for _, q := range c.Quotes {
		seen[q.Expiration.Format(time.DateOnly)] = q.Expiration
	}
	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Provider supplies option chains.
type Provider interface {
	Name() string
	Secondary() Provider
	// GetOptionChain returns calls and puts for the first maxExpiries
	// expirations strictly after asOf.
	GetOptionChain(ctx context.Context, underlying string, asOf time.Time, maxExpiries int) (Chain, error)
}

// FetchChain asks p for the chain and walks its Secondary() providers until
// one succeeds.
func FetchChain(ctx context.Context, p Provider, underlying string, asOf time.Time, maxExpiries int) (Chain, error) {
	var errs []error
	for cur := p; cur != nil; cur = cur.Secondary() {
		chain, err := cur.GetOptionChain(ctx, underlying, asOf, maxExpiries)
		if err == nil {
			logger.Infof("%s: %d quotes over %d expirations for %s (spot %.2f)",
				cur.Name(), len(chain.Quotes), len(chain.Expirations()), underlying, chain.Spot)
			return chain, nil
		}
		logger.Errorf("%s provider failed: %v", cur.Name(), err)
		errs = append(errs, fmt.Errorf("%s: %w", cur.Name(), err))
	}
	if len(errs) == 0 {
		return Chain{}, fmt.Errorf("no provider configured: %w", ErrNoData)
	}
	return Chain{}, errors.Join(errs...)
}

// ProviderOptions configures NewProvider.
type ProviderOptions struct {
	Kind       string // auto, massive, csv, synthetic
	APIKey     string
	CSVPath    string
	EventDate  *time.Time // synthetic only
	RiskFree   float64
	EnvFetcher func(string) string
}

// NewProvider builds the provider chain for kind. "auto" uses Massive when an
// API key is available (MASSIVE_API_KEY, then POLYGON_API_KEY) with the
// synthetic provider as secondary, and the synthetic provider alone
// otherwise.
func NewProvider(opts ProviderOptions) (Provider, error) {
	getenv := opts.EnvFetcher
	if getenv == nil {
		getenv = os.Getenv
	}
	key := opts.APIKey
	if key == "" {
		key = getenv("MASSIVE_API_KEY")
	}
	if key == "" {
		key = getenv("POLYGON_API_KEY")
	}

	synth := NewSyntheticProvider(SyntheticOptions{EventDate: opts.EventDate, RiskFree: opts.RiskFree})

	switch strings.ToLower(opts.Kind) {
	case "", "auto":
		if key == "" {
			logger.Infof("no market data key found, using synthetic provider")
			return synth, nil
		}
		return NewMassiveProvider(key, synth), nil
	case "massive", "polygon":
		if key == "" {
			return nil, errors.New("massive provider requires MASSIVE_API_KEY or POLYGON_API_KEY")
		}
		return NewMassiveProvider(key, nil), nil
	case "csv":
		if opts.CSVPath == "" {
			return nil, errors.New("csv provider requires csv_path")
		}
		return NewCSVProvider(opts.CSVPath, opts.RiskFree, nil), nil
	case "synthetic":
		return synth, nil
	}
	return nil, fmt.Errorf("unknown provider %q", opts.Kind)
}

// Closest finds the value in a sorted slice nearest to target using
// sort.Search. Ties resolve to the lower value.
func Closest(numList []float64, target float64) (float64, bool) {
	n := len(numList)
	if n == 0 {
		return 0, false
	}

	i := sort.Search(n, func(i int) bool {
		return numList[i] >= target
	})

	if i == 0 {
		return numList[0], true
	}
	if i == n {
		return numList[n-1], true
	}

	before := numList[i-1]
	after := numList[i]

	if math.Abs(before-target) <= math.Abs(after-target) {
		return before, true
	}
	return after, true
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// firstExpirations keeps quotes whose expiration is among the first n
// distinct expirations strictly after asOf.
func firstExpirations(quotes []Quote, asOf time.Time, n int) []Quote {
	day := truncateDay(asOf)
	var exps []time.Time
	seen := map[time.Time]bool{}
	for _, q := range quotes {
		e := truncateDay(q.Expiration)
		if e.After(day) && !seen[e] {
			seen[e] = true
			exps = append(exps, e)
		}
	}
	sort.Slice(exps, func(i, j int) bool { return exps[i].Before(exps[j]) })
	if n > 0 && len(exps) > n {
		exps = exps[:n]
	}
	keep := map[time.Time]bool{}
	for _, e := range exps {
		keep[e] = true
	}

	out := make([]Quote, 0, len(quotes))
	for _, q := range quotes {
		if keep[truncateDay(q.Expiration)] {
			out = append(out, q)
		}
	}
	return out
}
