package data

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/contactkeval/event-vol/internal/logger"
	"github.com/contactkeval/event-vol/internal/volatility"
)

// DefaultFilterRules drop zero-volume quotes, missing or non-positive IV,
// non-positive bids, crossed markets and spreads of 50% of the bid or more.
var DefaultFilterRules = []string{
	"volume > 0",
	"iv > 0",
	"bid > 0",
	"ask > bid",
	"(ask - bid) / bid < 0.5",
}

// QuoteFilter keeps quotes for which every rule evaluates to true. Rules are
// boolean expressions over volume, bid, ask, iv, strike and mid.
type QuoteFilter struct {
	rules []string
	exprs []*govaluate.EvaluableExpression
}

// NewQuoteFilter compiles rules; an empty list selects DefaultFilterRules.
func NewQuoteFilter(rules []string) (*QuoteFilter, error) {
	if len(rules) == 0 {
		rules = DefaultFilterRules
	}
	f := &QuoteFilter{}
	for _, r := range rules {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		expr, err := govaluate.NewEvaluableExpression(r)
		if err != nil {
			return nil, fmt.Errorf("%w: filter %q: %v", volatility.ErrConfiguration, r, err)
		}
		for _, v := range expr.Vars() {
			switch v {
			case "volume", "bid", "ask", "iv", "strike", "mid":
			default:
				return nil, fmt.Errorf("%w: filter %q: unknown variable %q", volatility.ErrConfiguration, r, v)
			}
		}
		f.rules = append(f.rules, r)
		f.exprs = append(f.exprs, expr)
	}
	return f, nil
}

// Rules returns the compiled rule texts.
func (f *QuoteFilter) Rules() []string { return f.rules }

// Keep evaluates the rules in order and stops at the first failing one.
func (f *QuoteFilter) Keep(q Quote) (bool, error) {
	params := map[string]interface{}{
		"volume": q.Volume,
		"bid":    q.Bid,
		"ask":    q.Ask,
		"iv":     q.ImpliedVolatility,
		"strike": q.Strike,
		"mid":    q.Mid(),
	}
	for i, expr := range f.exprs {
		res, err := expr.Evaluate(params)
		if err != nil {
			return false, fmt.Errorf("%w: filter %q: %v", volatility.ErrConfiguration, f.rules[i], err)
		}
		ok, isBool := res.(bool)
		if !isBool {
			return false, fmt.Errorf("%w: filter %q is not boolean", volatility.ErrConfiguration, f.rules[i])
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Apply returns the quotes that pass every rule.
func (f *QuoteFilter) Apply(quotes []Quote) ([]Quote, error) {
	out := make([]Quote, 0, len(quotes))
	for _, q := range quotes {
		ok, err := f.Keep(q)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, q)
		}
	}
	logger.Debugf("quote filter kept %d of %d", len(out), len(quotes))
	return out, nil
}
