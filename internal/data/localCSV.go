package data

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/contactkeval/event-vol/internal/logger"
	"github.com/contactkeval/event-vol/internal/pricing"
)

// csvColumns lists the recognised header names. implied_volatility and
// underlying are optional.
var csvColumns = map[string][]string{
	"underlying":         {"underlying", "symbol", "ticker"},
	"spot":               {"spot", "underlying_price"},
	"expiration":         {"expiration", "expiry", "expiration_date"},
	"strike":             {"strike", "strike_price"},
	"type":               {"type", "option_type", "contract_type"},
	"bid":                {"bid"},
	"ask":                {"ask"},
	"volume":             {"volume"},
	"implied_volatility": {"implied_volatility", "iv", "impliedvolatility"},
}

// localCSVProvider reads a chain exported to a CSV file, one contract per
// row with a header line.
type localCSVProvider struct {
	path      string
	riskFree  float64
	secondary Provider
}

// NewCSVProvider constructs a provider over the CSV file at path. Rows with
// no implied volatility get one solved from the bid/ask midpoint at riskFree.
func NewCSVProvider(path string, riskFree float64, secondary Provider) *localCSVProvider {
	return &localCSVProvider{path: path, riskFree: riskFree, secondary: secondary}
}

func (p *localCSVProvider) Name() string { return "csv" }

func (p *localCSVProvider) Secondary() Provider { return p.secondary }

func (p *localCSVProvider) GetOptionChain(ctx context.Context, underlying string, asOf time.Time, maxExpiries int) (Chain, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return Chain{}, fmt.Errorf("open chain file: %w", err)
	}
	defer f.Close()

	chain, err := readChainCSV(f, underlying)
	if err != nil {
		return Chain{}, fmt.Errorf("%s: %w", p.path, err)
	}
	chain.AsOf = asOf
	chain.Quotes = firstExpirations(chain.Quotes, asOf, maxExpiries)
	if len(chain.Quotes) == 0 {
		return Chain{}, fmt.Errorf("%s after %s: %w", underlying, asOf.Format(time.DateOnly), ErrNoData)
	}

	backfilled := 0
	for i, q := range chain.Quotes {
		if !math.IsNaN(q.ImpliedVolatility) || q.Bid <= 0 || q.Ask <= 0 {
			continue
		}
		T := truncateDay(q.Expiration).Sub(truncateDay(asOf)).Hours() / 24 / 365
		iv, err := pricing.ImpliedVol(q.IsCall(), q.Mid(), chain.Spot, q.Strike, T, p.riskFree)
		if err != nil {
			logger.Tracef("csv: no iv for %s %.2f %s: %v", q.Expiration.Format(time.DateOnly), q.Strike, q.OptionType, err)
			continue
		}
		chain.Quotes[i].ImpliedVolatility = iv
		backfilled++
	}
	if backfilled > 0 {
		logger.Debugf("csv: solved implied volatility for %d quotes", backfilled)
	}
	return chain, nil
}

func readChainCSV(r io.Reader, underlying string) (Chain, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return Chain{}, fmt.Errorf("read header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		for key, aliases := range csvColumns {
			for _, a := range aliases {
				if name == a {
					idx[key] = i
				}
			}
		}
	}
	for _, required := range []string{"spot", "expiration", "strike", "type", "bid", "ask", "volume"} {
		if _, ok := idx[required]; !ok {
			return Chain{}, fmt.Errorf("missing column %q", required)
		}
	}

	chain := Chain{Underlying: strings.ToUpper(underlying)}
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return Chain{}, fmt.Errorf("line %d: %w", line, err)
		}
		if i, ok := idx["underlying"]; ok && !strings.EqualFold(strings.TrimSpace(row[i]), underlying) {
			continue
		}

		q, spot, err := parseQuoteRow(row, idx)
		if err != nil {
			return Chain{}, fmt.Errorf("line %d: %w", line, err)
		}
		if chain.Spot == 0 {
			chain.Spot = spot
		}
		chain.Quotes = append(chain.Quotes, q)
	}
	if len(chain.Quotes) == 0 {
		return Chain{}, fmt.Errorf("%s: %w", underlying, ErrNoData)
	}
	return chain, nil
}

func parseQuoteRow(row []string, idx map[string]int) (Quote, float64, error) {
	num := func(key string) (float64, error) {
		s := strings.TrimSpace(row[idx[key]])
		if s == "" {
			return 0, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", key, err)
		}
		return v, nil
	}

	exp, err := time.Parse(time.DateOnly, strings.TrimSpace(row[idx["expiration"]]))
	if err != nil {
		return Quote{}, 0, fmt.Errorf("column expiration: %w", err)
	}
	q := Quote{
		Expiration:        exp,
		OptionType:        strings.ToLower(strings.TrimSpace(row[idx["type"]])),
		ImpliedVolatility: math.NaN(),
	}
	spot, err := num("spot")
	if err != nil {
		return Quote{}, 0, err
	}
	if q.Strike, err = num("strike"); err != nil {
		return Quote{}, 0, err
	}
	if q.Bid, err = num("bid"); err != nil {
		return Quote{}, 0, err
	}
	if q.Ask, err = num("ask"); err != nil {
		return Quote{}, 0, err
	}
	if q.Volume, err = num("volume"); err != nil {
		return Quote{}, 0, err
	}
	if i, ok := idx["implied_volatility"]; ok && strings.TrimSpace(row[i]) != "" {
		if q.ImpliedVolatility, err = num("implied_volatility"); err != nil {
			return Quote{}, 0, err
		}
	}
	return q, spot, nil
}
