package data

import (
	"fmt"
	"sort"
	"time"

	"github.com/contactkeval/event-vol/internal/logger"
	"github.com/contactkeval/event-vol/internal/volatility"
)

// SelectATM picks, for every expiration, the call whose strike is closest to
// spot. Ties go to the lower strike. The result is ordered by expiration.
func SelectATM(quotes []Quote, spot float64) []Quote {
	byExp := map[time.Time][]Quote{}
	for _, q := range quotes {
		if !q.IsCall() {
			continue
		}
		e := truncateDay(q.Expiration)
		byExp[e] = append(byExp[e], q)
	}

	exps := make([]time.Time, 0, len(byExp))
	for e := range byExp {
		exps = append(exps, e)
	}
	sort.Slice(exps, func(i, j int) bool { return exps[i].Before(exps[j]) })

	out := make([]Quote, 0, len(exps))
	for _, e := range exps {
		qs := byExp[e]
		sort.SliceStable(qs, func(i, j int) bool { return qs[i].Strike < qs[j].Strike })
		strikes := make([]float64, len(qs))
		for i, q := range qs {
			strikes[i] = q.Strike
		}
		k, _ := Closest(strikes, spot)
		i := sort.SearchFloat64s(strikes, k)
		out = append(out, qs[i])
		logger.Tracef("atm %s strike=%.2f iv=%.4f", e.Format(time.DateOnly), qs[i].Strike, qs[i].ImpliedVolatility)
	}
	return out
}

// ToObservations converts ATM quotes into pipeline observations with tenor
// measured in calendar days from asOf.
func ToObservations(atm []Quote, asOf time.Time) []volatility.TenorObservation {
	out := make([]volatility.TenorObservation, 0, len(atm))
	for _, q := range atm {
		out = append(out, volatility.TenorObservation{
			Expiration:        truncateDay(q.Expiration),
			TenorDays:         volatility.TenorDays(asOf, q.Expiration),
			Strike:            q.Strike,
			ImpliedVolatility: q.ImpliedVolatility,
		})
	}
	return out
}

// Observations cleans the chain, selects ATM calls and returns them as
// pipeline observations.
func Observations(chain Chain, filter *QuoteFilter) ([]volatility.TenorObservation, error) {
	clean, err := filter.Apply(chain.Quotes)
	if err != nil {
		return nil, err
	}
	if len(clean) == 0 {
		return nil, fmt.Errorf("%s: no quotes survive cleaning: %w", chain.Underlying, volatility.ErrNoObservations)
	}
	atm := SelectATM(clean, chain.Spot)
	logger.Infof("%s: %d ATM expirations from %d clean quotes", chain.Underlying, len(atm), len(clean))
	return ToObservations(atm, chain.AsOf), nil
}
