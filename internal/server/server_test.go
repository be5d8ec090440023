package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/contactkeval/event-vol/internal/data"
	"github.com/contactkeval/event-vol/internal/volatility"
)

const analyzeBody = `{
	"underlying": "ANET",
	"as_of": "2025-01-02",
	"event_date": "2025-01-15",
	"observations": [
		{"expiration": "2025-01-12", "strike": 100, "implied_volatility": 0.40},
		{"expiration": "2025-01-22", "strike": 100, "implied_volatility": 0.35},
		{"expiration": "2025-02-11", "strike": 100, "implied_volatility": 0.30},
		{"expiration": "2025-04-02", "strike": 100, "implied_volatility": 0.25}
	]
}`

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, prov data.Provider) *httptest.Server {
	t.Helper()
	filter, err := data.NewQuoteFilter(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := New(Deps{
		Provider: prov,
		Filter:   filter,
		Defaults: volatility.DefaultOptions(),
		Now:      func() time.Time { return time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC) },
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	return resp.StatusCode, env
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	status, env := do(t, http.MethodGet, srv.URL+"/health", "")
	if status != http.StatusOK || env.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
}

func TestAnalyze(t *testing.T) {
	srv := newTestServer(t, nil)

	status, env := do(t, http.MethodPost, srv.URL+"/v1/analyze", analyzeBody)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, env.Data)
	}

	var res struct {
		Underlying    string  `json:"underlying"`
		Policy        string  `json:"policy"`
		NextEventDate string  `json:"next_event_date"`
		AverageIV     float64 `json:"average_event_iv"`
		Rows          []struct {
			TenorDays int     `json:"tenor_days"`
			EventIV   float64 `json:"event_iv"`
		} `json:"rows"`
		Surface struct {
			Days   []int     `json:"days"`
			Tenors []float64 `json:"tenors"`
		} `json:"surface"`
		Path struct {
			TenorDays float64 `json:"tenor_days"`
		} `json:"path"`
	}
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("invalid result: %v", err)
	}
	if res.Underlying != "ANET" || res.Policy != "variance" {
		t.Fatalf("unexpected header %+v", res)
	}
	if !strings.HasPrefix(res.NextEventDate, "2025-01-15") {
		t.Fatalf("expected event date to pass through, got %q", res.NextEventDate)
	}
	if len(res.Rows) != 4 || res.Rows[0].TenorDays != 10 || res.Rows[3].TenorDays != 90 {
		t.Fatalf("unexpected rows %+v", res.Rows)
	}
	if len(res.Surface.Days) != 11 || len(res.Surface.Tenors) != 50 {
		t.Fatalf("expected default surface, got %d days x %d tenors", len(res.Surface.Days), len(res.Surface.Tenors))
	}
	if res.Path.TenorDays != 10 {
		t.Fatalf("expected path at 10d, got %v", res.Path.TenorDays)
	}
}

func TestAnalyzeSurfaceOverrides(t *testing.T) {
	srv := newTestServer(t, nil)
	body := strings.Replace(analyzeBody, `"event_date": "2025-01-15",`,
		`"policy": "linear", "surface": {"decay_lambda": 0, "max_days": 3, "tenor_points": 5}, "target_tenor": 0,`, 1)

	status, env := do(t, http.MethodPost, srv.URL+"/v1/analyze", body)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, env.Data)
	}
	var res struct {
		Policy  string `json:"policy"`
		Surface struct {
			DecayLambda float64     `json:"decay_lambda"`
			Grid        [][]float64 `json:"grid"`
		} `json:"surface"`
		Path struct {
			TargetTenor float64 `json:"target_tenor"`
		} `json:"path"`
	}
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("invalid result: %v", err)
	}
	if res.Policy != "linear" || res.Surface.DecayLambda != 0 || len(res.Surface.Grid) != 4 || len(res.Surface.Grid[0]) != 5 {
		t.Fatalf("overrides not applied: %+v", res)
	}
}

func TestAnalyzeValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name   string
		body   string
		fields []string
	}{
		{
			name:   "missing fields",
			body:   `{"as_of": "2025-13-01", "observations": [{"expiration": "2025-01-12", "implied_volatility": 0}]}`,
			fields: []string{"underlying", "as_of", "implied_volatility"},
		},
		{
			name:   "bad policy",
			body:   strings.Replace(analyzeBody, `"as_of"`, `"policy": "ratio", "as_of"`, 1),
			fields: []string{"policy"},
		},
		{
			name:   "negative decay",
			body:   strings.Replace(analyzeBody, `"as_of"`, `"surface": {"decay_lambda": -1}, "as_of"`, 1),
			fields: []string{"decay_lambda"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			status, env := do(t, http.MethodPost, srv.URL+"/v1/analyze", test.body)
			if status != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", status)
			}
			var errs []ValidationError
			if err := json.Unmarshal(env.Data, &errs); err != nil {
				t.Fatalf("invalid errors: %v", err)
			}
			got := map[string]bool{}
			for _, e := range errs {
				got[e.Field] = true
			}
			for _, f := range test.fields {
				if !got[f] {
					t.Fatalf("expected error on %s, got %+v", f, errs)
				}
			}
		})
	}

	status, _ := do(t, http.MethodPost, srv.URL+"/v1/analyze", `{"underlying":`)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", status)
	}
}

func TestAnalyzeUnderdetermined(t *testing.T) {
	srv := newTestServer(t, nil)
	body := `{"underlying": "ANET", "as_of": "2025-01-02", "observations": [
		{"expiration": "2025-01-12", "implied_volatility": 0.40},
		{"expiration": "2025-01-22", "implied_volatility": 0.35}]}`

	status, env := do(t, http.MethodPost, srv.URL+"/v1/analyze", body)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", status)
	}
	var runErr RunError
	if err := json.Unmarshal(env.Data, &runErr); err != nil {
		t.Fatalf("invalid error body: %v", err)
	}
	if runErr.Kind != "fitting_error" {
		t.Fatalf("expected fitting_error, got %+v", runErr)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), `event_vol_runs_total{policy="variance",status="fitting_error"} 1`) {
		t.Fatalf("expected failed run in metrics:\n%s", b)
	}
}

type downProvider struct{}

func (downProvider) Name() string             { return "down" }
func (downProvider) Secondary() data.Provider { return nil }
func (downProvider) GetOptionChain(context.Context, string, time.Time, int) (data.Chain, error) {
	return data.Chain{}, data.ErrNoData
}

func TestSnapshot(t *testing.T) {
	srv := newTestServer(t, data.NewSyntheticProvider(data.SyntheticOptions{}))

	status, env := do(t, http.MethodGet, srv.URL+"/v1/snapshot/SPY?expirations=6&as_of=2025-01-02", "")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, env.Data)
	}
	var res struct {
		Rows []json.RawMessage `json:"rows"`
	}
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("invalid result: %v", err)
	}
	if len(res.Rows) != 6 {
		t.Fatalf("expected 6 rows, got %d", len(res.Rows))
	}

	status, _ = do(t, http.MethodGet, srv.URL+"/v1/snapshot/SPY?expirations=30", "")
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for too many expirations, got %d", status)
	}
}

func TestSnapshotProviderDown(t *testing.T) {
	srv := newTestServer(t, downProvider{})

	status, env := do(t, http.MethodGet, srv.URL+"/v1/snapshot/SPY", "")
	if status != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", status, env.Data)
	}
}
