package data

import (
	"context"
	"fmt"
	"math"
	"time"

	massive "github.com/massive-com/client-go/v2/rest"
	"github.com/massive-com/client-go/v2/rest/models"

	"github.com/contactkeval/event-vol/internal/logger"
)

// snapshotLister returns every contract snapshot of underlying expiring
// after from.
type snapshotLister func(ctx context.Context, underlying string, from time.Time) ([]models.OptionContractSnapshot, error)

// massiveProvider reads the live option-chain snapshot through the Massive
// SDK. The snapshot endpoint has no history, so asOf only selects which
// expirations are kept.
type massiveProvider struct {
	list      snapshotLister
	secondary Provider
}

// NewMassiveProvider constructs a Massive-backed provider.
func NewMassiveProvider(apiKey string, secondary Provider) *massiveProvider {
	logger.Infof("initializing Massive data provider")
	return &massiveProvider{list: sdkLister(massive.New(apiKey)), secondary: secondary}
}

func sdkLister(c *massive.Client) snapshotLister {
	return func(ctx context.Context, underlying string, from time.Time) ([]models.OptionContractSnapshot, error) {
		params := models.ListOptionsChainParams{UnderlyingAsset: underlying}.
			WithExpirationDate(models.GT, models.Date(from)).
			WithLimit(250)

		iter := c.ListOptionsChainSnapshot(ctx, params)
		var out []models.OptionContractSnapshot
		for iter.Next() {
			out = append(out, iter.Item())
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("massive options chain snapshot: %w", err)
		}
		return out, nil
	}
}

func (p *massiveProvider) Name() string { return "massive" }

func (p *massiveProvider) Secondary() Provider { return p.secondary }

func (p *massiveProvider) GetOptionChain(ctx context.Context, underlying string, asOf time.Time, maxExpiries int) (Chain, error) {
	logger.Debugf("massive chain request: %s after %s", underlying, asOf.Format(time.DateOnly))

	snaps, err := p.list(ctx, underlying, truncateDay(asOf))
	if err != nil {
		return Chain{}, err
	}
	if len(snaps) == 0 {
		return Chain{}, fmt.Errorf("%s: %w", underlying, ErrNoData)
	}

	chain := Chain{Underlying: underlying, AsOf: asOf}
	for _, s := range snaps {
		if chain.Spot == 0 && s.UnderlyingAsset.Price > 0 {
			chain.Spot = s.UnderlyingAsset.Price
		}
		iv := s.ImpliedVolatility
		if iv <= 0 {
			iv = math.NaN()
		}
		chain.Quotes = append(chain.Quotes, Quote{
			Expiration:        time.Time(s.Details.ExpirationDate).UTC(),
			Strike:            s.Details.StrikePrice,
			OptionType:        s.Details.ContractType,
			Bid:               s.LastQuote.Bid,
			Ask:               s.LastQuote.Ask,
			Volume:            s.Day.Volume,
			ImpliedVolatility: iv,
		})
	}
	if chain.Spot == 0 {
		return Chain{}, fmt.Errorf("%s: snapshot carries no underlying price: %w", underlying, ErrNoData)
	}

	chain.Quotes = firstExpirations(chain.Quotes, asOf, maxExpiries)
	logger.Tracef("massive: kept %d of %d contracts", len(chain.Quotes), len(snaps))
	return chain, nil
}
