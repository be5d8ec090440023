package volatility

import (
	"fmt"
	"math"
	"strings"

	"github.com/contactkeval/event-vol/internal/logger"
)

// Policy selects how observed IV is split into baseline and event parts.
type Policy string

const (
	// PolicyVariance removes baseline total variance from observed total
	// variance, clamps at zero and converts back to an annualized vol:
	//
	//	event_iv = sqrt(max(iv^2*T - base^2*T, 0) / T)
	PolicyVariance Policy = "variance"

	// PolicyLinear takes the plain vol difference clamped at zero.
	PolicyLinear Policy = "linear"
)

// ParsePolicy accepts "variance" or "linear" (case-insensitive). An empty
// string selects PolicyVariance.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyVariance:
		return PolicyVariance, nil
	case PolicyLinear:
		return PolicyLinear, nil
	}
	return "", fmt.Errorf("%w: unknown decomposition policy %q", ErrConfiguration, s)
}

// EventVariance returns the clamped event variance in total-variance units
// (vol^2 * years). PolicyLinear reports the square of its vol difference
// scaled the same way so the column stays comparable.
func (p Policy) EventVariance(observedIV, baselineIV, tenorYears float64) float64 {
	switch p {
	case PolicyLinear:
		d := p.EventIV(observedIV, baselineIV, tenorYears)
		return d * d * tenorYears
	default:
		total := observedIV * observedIV * tenorYears
		base := baselineIV * baselineIV * tenorYears
		if !(total > base) {
			return 0
		}
		return total - base
	}
}

// EventIV returns the event component of one quote. The result is never
// negative and is exactly zero when observedIV <= baselineIV.
func (p Policy) EventIV(observedIV, baselineIV, tenorYears float64) float64 {
	if !(observedIV > baselineIV) {
		return 0
	}
	switch p {
	case PolicyLinear:
		return observedIV - baselineIV
	default:
		v := p.EventVariance(observedIV, baselineIV, tenorYears)
		if !(v > 0) || !(tenorYears > 0) {
			return 0
		}
		return math.Sqrt(v / tenorYears)
	}
}

// EventIVRow is an observation with its decomposition attached.
type EventIVRow struct {
	TenorObservation
	BaselineIV    float64 `json:"baseline_iv"`
	EventVariance float64 `json:"event_variance"`
	EventIV       float64 `json:"event_iv"`
}

// Decompose splits each observation against the baseline and returns the
// per-tenor table plus the mean of the strictly positive event IVs (0 when
// there are none).
func Decompose(observations []TenorObservation, model BaselineModel, policy Policy) ([]EventIVRow, float64, error) {
	policy, err := ParsePolicy(string(policy))
	if err != nil {
		return nil, 0, err
	}
	obs, err := PrepareObservations(observations)
	if err != nil {
		return nil, 0, fmt.Errorf("decompose: %w", err)
	}

	rows := make([]EventIVRow, len(obs))
	sum, n := 0.0, 0
	for i, o := range obs {
		t := o.TenorYears()
		base := model.Eval(t)
		row := EventIVRow{
			TenorObservation: o,
			BaselineIV:       base,
			EventVariance:    policy.EventVariance(o.ImpliedVolatility, base, t),
			EventIV:          policy.EventIV(o.ImpliedVolatility, base, t),
		}
		rows[i] = row
		if row.EventIV > 0 {
			sum += row.EventIV
			n++
		}
		logger.Debugf("decompose tenor=%dd iv=%.4f baseline=%.4f event=%.4f", o.TenorDays, o.ImpliedVolatility, base, row.EventIV)
	}

	avg := 0.0
	if n > 0 {
		avg = sum / float64(n)
	}
	logger.Infof("average event IV %.4f (%.2f%%) over %d positive tenors", avg, avg*100, n)
	return rows, avg, nil
}
