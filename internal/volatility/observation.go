// Package volatility splits an at-the-money implied volatility term structure
// into a smooth diffusive baseline and an event component, and projects the
// event component forward in calendar time.
//
// The package is pure: every operation depends only on its explicit inputs.
// Logging is informational only and is never required by callers.
package volatility

import (
	"fmt"
	"sort"
	"time"
)

// DaysPerYear converts tenor days to years.
const DaysPerYear = 365.0

// TenorObservation is the ATM quote of one expiration.
type TenorObservation struct {
	Expiration        time.Time `json:"expiration"`
	TenorDays         int       `json:"tenor_days"`
	Strike            float64   `json:"strike"`
	ImpliedVolatility float64   `json:"implied_volatility"`
}

// TenorYears returns the tenor expressed in years.
func (o TenorObservation) TenorYears() float64 {
	return float64(o.TenorDays) / DaysPerYear
}

// TenorDays returns the number of calendar days from asOf to expiration,
// comparing dates only.
func TenorDays(asOf, expiration time.Time) int {
	a := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(expiration.Year(), expiration.Month(), expiration.Day(), 0, 0, 0, 0, time.UTC)
	return int(e.Sub(a).Hours() / 24)
}

// PrepareObservations drops expired and same-day rows and orders the rest by
// tenor. It fails with ErrNoObservations when nothing remains.
func PrepareObservations(obs []TenorObservation) ([]TenorObservation, error) {
	out := make([]TenorObservation, 0, len(obs))
	for _, o := range obs {
		if o.TenorDays <= 0 {
			continue
		}
		out = append(out, o)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("prepare observations: %w", ErrNoObservations)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TenorDays < out[j].TenorDays })
	return out, nil
}

func distinctTenors(obs []TenorObservation) int {
	seen := make(map[int]struct{}, len(obs))
	for _, o := range obs {
		seen[o.TenorDays] = struct{}{}
	}
	return len(seen)
}
