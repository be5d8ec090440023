package data

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/contactkeval/event-vol/internal/pricing"
)

// SyntheticOptions shapes the generated chain. Zero values take defaults.
type SyntheticOptions struct {
	Spot      float64
	A, B, C   float64    // baseline a + b*exp(-c*T)
	EventDate *time.Time // defaults to asOf + 10 days
	EventVar  float64    // total variance added to expirations after the event
	RiskFree  float64
}

// synthDataProvider generates a deterministic chain from a known baseline
// plus an event bump, for offline runs and tests.
type synthDataProvider struct {
	opts      SyntheticOptions
	secondary Provider
}

// NewSyntheticProvider returns a provider with defaults spot=100,
// baseline 0.25 + 0.15*exp(-6T) and an event variance of 0.0025.
func NewSyntheticProvider(opts SyntheticOptions) Provider {
	if opts.Spot <= 0 {
		opts.Spot = 100
	}
	if opts.A == 0 && opts.B == 0 && opts.C == 0 {
		opts.A, opts.B, opts.C = 0.25, 0.15, 6
	}
	if opts.EventVar == 0 {
		opts.EventVar = 0.0025
	}
	return &synthDataProvider{opts: opts}
}

func (p *synthDataProvider) Name() string { return "synthetic" }

func (p *synthDataProvider) Secondary() Provider { return p.secondary }

// ATMIV is the generated at-the-money volatility for an expiration.
func (p *synthDataProvider) ATMIV(asOf, expiration time.Time) float64 {
	days := truncateDay(expiration).Sub(truncateDay(asOf)).Hours() / 24
	T := days / 365
	base := p.opts.A + p.opts.B*math.Exp(-p.opts.C*T)

	event := truncateDay(asOf).AddDate(0, 0, 10)
	if p.opts.EventDate != nil {
		event = truncateDay(*p.opts.EventDate)
	}
	if !expiration.Before(event) && !event.Before(truncateDay(asOf)) {
		return math.Sqrt(base*base + p.opts.EventVar/T)
	}
	return base
}

func (p *synthDataProvider) GetOptionChain(ctx context.Context, underlying string, asOf time.Time, maxExpiries int) (Chain, error) {
	if maxExpiries <= 0 {
		return Chain{}, fmt.Errorf("synthetic: maxExpiries must be positive, got %d", maxExpiries)
	}
	S := p.opts.Spot
	chain := Chain{Underlying: underlying, Spot: S, AsOf: asOf}

	// weekly Friday expirations strictly after asOf
	exp := truncateDay(asOf).AddDate(0, 0, 1)
	for exp.Weekday() != time.Friday {
		exp = exp.AddDate(0, 0, 1)
	}

	for n := 0; n < maxExpiries; n++ {
		T := exp.Sub(truncateDay(asOf)).Hours() / 24 / 365
		atm := p.ATMIV(asOf, exp)
		for k := 0.80; k <= 1.2001; k += 0.025 {
			K := math.Round(S*k*100) / 100
			m := math.Log(K / S)
			iv := atm + 0.5*m*m
			for _, isCall := range []bool{true, false} {
				price := pricing.BlackScholesPrice(isCall, S, K, T, p.opts.RiskFree, iv)
				typ := "put"
				if isCall {
					typ = "call"
				}
				chain.Quotes = append(chain.Quotes, Quote{
					Expiration:        exp,
					Strike:            K,
					OptionType:        typ,
					Bid:               math.Floor(price*0.97*100) / 100,
					Ask:               math.Ceil(price*1.03*100) / 100,
					Volume:            math.Round(1000 * math.Exp(-20*m*m)),
					ImpliedVolatility: iv,
				})
			}
		}
		exp = exp.AddDate(0, 0, 7)
	}
	return chain, nil
}
