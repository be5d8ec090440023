package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/contactkeval/event-vol/internal/testutil"
	"github.com/contactkeval/event-vol/internal/volatility"
)

func fixedResult() *volatility.Result {
	asOf := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	next := time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC)
	row := func(exp time.Time, days int, strike, iv, base, ev, eiv float64) volatility.EventIVRow {
		return volatility.EventIVRow{
			TenorObservation: volatility.TenorObservation{Expiration: exp, TenorDays: days, Strike: strike, ImpliedVolatility: iv},
			BaselineIV:       base,
			EventVariance:    ev,
			EventIV:          eiv,
		}
	}

	return &volatility.Result{
		RunID:         "run-1",
		Underlying:    "ANET",
		AsOf:          asOf,
		NextEventDate: &next,
		Policy:        volatility.PolicyVariance,
		Model:         volatility.NewBaselineModel(0.3, 0.1, 2),
		Fit:           volatility.FitReport{Iterations: 12, Points: 2, RMSE: 0.000123},
		Rows: []volatility.EventIVRow{
			row(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), 8, 100, 0.4, 0.35, 0.000822, 0.193649),
			row(time.Date(2025, 2, 21, 0, 0, 0, 0, time.UTC), 50, 102.5, 0.25, 0.27, 0, 0),
		},
		AverageEventIV: 0.193649,
		StandardTenors: []volatility.BaselinePoint{{TenorDays: 7, BaselineIV: 0.3963}, {TenorDays: 30, BaselineIV: 0.3848}},
		Surface: &volatility.ResidualSurface{
			DecayLambda: 0.3,
			Days:        []int{0, 1},
			Tenors:      []float64{8, 50},
			EventIV:     []float64{0.193649, 0},
			Grid:        [][]float64{{0.193649, 0}, {0.143459, 0}},
		},
		Path: volatility.TenorPath{
			TargetTenor: 5,
			TenorDays:   8,
			BaselineIV:  0.35,
			Days:        []int{0, 1},
			Residual:    []float64{0.193649, 0.143459},
			Total:       []float64{0.543649, 0.493459},
		},
	}
}

func TestWriteEventCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEventCSV(&buf, fixedResult().Rows); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.CompareWithGolden(t, "event_iv", buf.Bytes())
}

func TestWriteSurfaceCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSurfaceCSV(&buf, fixedResult().Surface); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.CompareWithGolden(t, "surface", buf.Bytes())
}

func TestWritePathCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePathCSV(&buf, fixedResult().Path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.CompareWithGolden(t, "path", buf.Bytes())
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSummary(&buf, fixedResult()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.CompareWithGolden(t, "summary", buf.Bytes())
}

func TestWriteAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")

	paths, err := WriteAll(fixedResult(), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 4 {
		t.Fatalf("expected 4 files, got %v", paths)
	}
	for _, p := range paths {
		if st, err := os.Stat(p); err != nil || st.Size() == 0 {
			t.Fatalf("expected non-empty %s: %v", p, err)
		}
	}

	b, err := os.ReadFile(filepath.Join(dir, "result.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded struct {
		RunID string `json:"run_id"`
		Model struct {
			A       float64 `json:"a"`
			Formula string  `json:"formula"`
		} `json:"model"`
		Rows []struct {
			TenorDays int     `json:"tenor_days"`
			EventIV   float64 `json:"event_iv"`
		} `json:"rows"`
		NextEventDate string `json:"next_event_date"`
	}
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded.RunID != "run-1" || decoded.Model.A != 0.3 || len(decoded.Rows) != 2 || decoded.Rows[0].EventIV != 0.193649 {
		t.Fatalf("unexpected decoded result %+v", decoded)
	}
	if decoded.Model.Formula == "" || decoded.NextEventDate == "" {
		t.Fatalf("expected formula and next event date in %s", b)
	}
}
