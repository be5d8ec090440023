// Package pricing holds the Black-Scholes helpers used to price synthetic
// quotes and to back out implied volatility from quoted premiums.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// ErrNoConvergence is returned when the implied volatility search fails.
var ErrNoConvergence = errors.New("implied vol did not converge")

// BlackScholesPrice returns the European option premium. With no time or no
// volatility left it returns intrinsic value.
func BlackScholesPrice(isCall bool, S, K, T, r, sigma float64) float64 {
	if T <= 0 || sigma <= 0 {
		if isCall {
			return math.Max(0, S-K)
		}
		return math.Max(0, K-S)
	}

	d1, d2 := d1d2(S, K, T, r, sigma)
	df := math.Exp(-r * T)
	if isCall {
		return S*distuv.UnitNormal.CDF(d1) - K*df*distuv.UnitNormal.CDF(d2)
	}
	return K*df*distuv.UnitNormal.CDF(-d2) - S*distuv.UnitNormal.CDF(-d1)
}

// BlackScholesVega is dPrice/dSigma, identical for calls and puts.
func BlackScholesVega(S, K, T, r, sigma float64) float64 {
	if T <= 0 || sigma <= 0 {
		return 0
	}
	d1, _ := d1d2(S, K, T, r, sigma)
	return S * distuv.UnitNormal.Prob(d1) * math.Sqrt(T)
}

// ImpliedVol solves BlackScholesPrice(sigma) = price with Newton steps,
// falling back to bisection whenever vega vanishes or a step leaves the
// bracket.
func ImpliedVol(isCall bool, price, S, K, T, r float64) (float64, error) {
	if T <= 0 {
		return 0, fmt.Errorf("implied vol: invalid expiry %g", T)
	}
	lo, hi := 1e-4, 5.0
	if price < BlackScholesPrice(isCall, S, K, T, r, lo) || price > BlackScholesPrice(isCall, S, K, T, r, hi) {
		return 0, fmt.Errorf("implied vol: premium %.4f outside no-arbitrage range: %w", price, ErrNoConvergence)
	}

	const (
		maxIter = 100
		tol     = 1e-8
	)

	sigma := 0.20
	for i := 0; i < maxIter; i++ {
		diff := BlackScholesPrice(isCall, S, K, T, r, sigma) - price
		if math.Abs(diff) < tol {
			return sigma, nil
		}
		if diff > 0 {
			hi = sigma
		} else {
			lo = sigma
		}

		next := sigma
		if vega := BlackScholesVega(S, K, T, r, sigma); vega > 1e-10 {
			next = sigma - diff/vega
		}
		if next <= lo || next >= hi || next == sigma {
			next = 0.5 * (lo + hi)
		}
		sigma = next
	}
	return 0, ErrNoConvergence
}

func d1d2(S, K, T, r, sigma float64) (float64, float64) {
	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	return d1, d1 - sigma*sqrtT
}
