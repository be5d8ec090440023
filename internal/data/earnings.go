package data

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/contactkeval/event-vol/internal/logger"
)

// EarningsResponse is the Alpha Vantage EARNINGS payload; only reported
// quarterly dates are used.
type EarningsResponse struct {
	QuarterlyEarnings []struct {
		ReportedDate string `json:"reportedDate"`
	} `json:"quarterlyEarnings"`
	Note        string `json:"Note"`
	Information string `json:"Information"`
}

// EarningsClient reads earnings dates from Alpha Vantage.
type EarningsClient struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

// NewEarningsClient uses apiKey, falling back to ALPHAVANTAGE_API_KEY.
func NewEarningsClient(apiKey string) *EarningsClient {
	if apiKey == "" {
		apiKey = os.Getenv("ALPHAVANTAGE_API_KEY")
	}
	return &EarningsClient{
		APIKey:  apiKey,
		BaseURL: "https://www.alphavantage.co",
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// EventDates merges the upcoming calendar (EARNINGS_CALENDAR, CSV) with the
// reported history (EARNINGS, JSON). Dates are day-truncated, unique and
// ascending.
func (c *EarningsClient) EventDates(ctx context.Context, symbol string) ([]time.Time, error) {
	if c.APIKey == "" {
		return nil, errors.New("missing ALPHAVANTAGE_API_KEY")
	}

	upcoming, upErr := c.upcoming(ctx, symbol)
	reported, repErr := c.reported(ctx, symbol)
	if upErr != nil && repErr != nil {
		return nil, errors.Join(upErr, repErr)
	}

	seen := map[time.Time]bool{}
	var out []time.Time
	for _, t := range append(upcoming, reported...) {
		d := truncateDay(t)
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (c *EarningsClient) get(ctx context.Context, params url.Values) ([]byte, error) {
	params.Set("apikey", c.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/query?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alphavantage %s: status %d", params.Get("function"), resp.StatusCode)
	}
	return body, nil
}

func (c *EarningsClient) reported(ctx context.Context, symbol string) ([]time.Time, error) {
	body, err := c.get(ctx, url.Values{"function": {"EARNINGS"}, "symbol": {symbol}})
	if err != nil {
		return nil, err
	}

	var er EarningsResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, fmt.Errorf("decode earnings: %w", err)
	}
	if msg := er.Note + er.Information; msg != "" && len(er.QuarterlyEarnings) == 0 {
		return nil, fmt.Errorf("alphavantage: %s", msg)
	}

	out := []time.Time{}
	for _, q := range er.QuarterlyEarnings {
		if t, err := time.Parse(time.DateOnly, q.ReportedDate); err == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

// upcoming reads the CSV calendar: symbol,name,reportDate,fiscalDateEnding,...
func (c *EarningsClient) upcoming(ctx context.Context, symbol string) ([]time.Time, error) {
	body, err := c.get(ctx, url.Values{"function": {"EARNINGS_CALENDAR"}, "symbol": {symbol}, "horizon": {"3month"}})
	if err != nil {
		return nil, err
	}

	records, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode earnings calendar: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	col := -1
	for i, h := range records[0] {
		if strings.EqualFold(strings.TrimSpace(h), "reportDate") {
			col = i
		}
	}
	if col < 0 {
		return nil, errors.New("earnings calendar: no reportDate column")
	}

	var out []time.Time
	for _, row := range records[1:] {
		if col >= len(row) {
			continue
		}
		if t, err := time.Parse(time.DateOnly, strings.TrimSpace(row[col])); err == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

// NextEventDate returns the earliest date on or after asOf.
func NextEventDate(dates []time.Time, asOf time.Time) (time.Time, bool) {
	day := truncateDay(asOf)
	var best time.Time
	found := false
	for _, d := range dates {
		d = truncateDay(d)
		if d.Before(day) {
			continue
		}
		if !found || d.Before(best) {
			best, found = d, true
		}
	}
	return best, found
}

// ResolveEventDate returns override when set, otherwise the next earnings
// date from client. Lookup failures are logged and yield nil.
func ResolveEventDate(ctx context.Context, client *EarningsClient, symbol string, asOf time.Time, override *time.Time) *time.Time {
	if override != nil {
		d := truncateDay(*override)
		return &d
	}
	if client == nil {
		return nil
	}
	dates, err := client.EventDates(ctx, symbol)
	if err != nil {
		logger.Errorf("could not fetch earnings dates for %s: %v", symbol, err)
		return nil
	}
	next, ok := NextEventDate(dates, asOf)
	if !ok {
		logger.Infof("no upcoming earnings date for %s", symbol)
		return nil
	}
	logger.Infof("next earnings date for %s: %s", symbol, next.Format(time.DateOnly))
	return &next
}
