// Package report writes a pipeline result to disk as JSON, CSV and a plain
// text summary.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/contactkeval/event-vol/internal/volatility"
)

func num(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

// WriteJSON writes the full result to outdir/result.json.
func WriteJSON(res *volatility.Result, outdir string) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outdir, "result.json"), b, 0644)
}

// WriteEventCSV writes the per-tenor decomposition table.
func WriteEventCSV(w io.Writer, rows []volatility.EventIVRow) error {
	cw := csv.NewWriter(w)
	headers := []string{"expiration", "tenor_days", "strike", "implied_volatility", "baseline_iv", "event_variance", "event_iv"}
	if err := cw.Write(headers); err != nil {
		return err
	}
	for _, r := range rows {
		row := []string{
			r.Expiration.Format(time.DateOnly),
			strconv.Itoa(r.TenorDays),
			strconv.FormatFloat(r.Strike, 'f', -1, 64),
			num(r.ImpliedVolatility),
			num(r.BaselineIV),
			num(r.EventVariance),
			num(r.EventIV),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSurfaceCSV writes the residual grid in long format, one row per
// (day, tenor) cell.
func WriteSurfaceCSV(w io.Writer, s *volatility.ResidualSurface) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"day", "tenor_days", "residual_iv"}); err != nil {
		return err
	}
	for d, day := range s.Days {
		for i, tenor := range s.Tenors {
			if err := cw.Write([]string{strconv.Itoa(day), num(tenor), num(s.Grid[d][i])}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePathCSV writes the single-tenor residual and total paths.
func WritePathCSV(w io.Writer, p volatility.TenorPath) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"day", "residual_iv", "total_iv"}); err != nil {
		return err
	}
	for i, day := range p.Days {
		if err := cw.Write([]string{strconv.Itoa(day), num(p.Residual[i]), num(p.Total[i])}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummary prints the human readable run summary.
func WriteSummary(w io.Writer, res *volatility.Result) error {
	var b strings.Builder
	rule := strings.Repeat("=", 60)

	fmt.Fprintf(&b, "%s\nEvent IV decomposition for %s as of %s (%s policy)\n%s\n",
		rule, res.Underlying, res.AsOf.Format(time.DateOnly), res.Policy, rule)
	fmt.Fprintf(&b, "\nBaseline: %s\n", res.Model)
	fmt.Fprintf(&b, "Fit: %d points, %d iterations, rmse %.6f\n", res.Fit.Points, res.Fit.Iterations, res.Fit.RMSE)

	fmt.Fprintf(&b, "\nBaseline IV at standard DTE:\n")
	for _, p := range res.StandardTenors {
		fmt.Fprintf(&b, "  DTE = %2d days -> IV %.4f (%.2f%%)\n", p.TenorDays, p.BaselineIV, p.BaselineIV*100)
	}

	fmt.Fprintf(&b, "\nPer-tenor event IV:\n")
	fmt.Fprintf(&b, "  %-10s %5s %8s %8s %8s %8s\n", "expiration", "days", "strike", "iv", "baseline", "event")
	for _, r := range res.Rows {
		fmt.Fprintf(&b, "  %-10s %5d %8.2f %8.4f %8.4f %8.4f\n",
			r.Expiration.Format(time.DateOnly), r.TenorDays, r.Strike, r.ImpliedVolatility, r.BaselineIV, r.EventIV)
	}
	fmt.Fprintf(&b, "\nAverage event IV: %.4f (%.2f%%)\n", res.AverageEventIV, res.AverageEventIV*100)

	fmt.Fprintf(&b, "\nResidual path at %.2f days (target %.2f):\n", res.Path.TenorDays, res.Path.TargetTenor)
	for i, day := range res.Path.Days {
		fmt.Fprintf(&b, "  day %2d: residual %.4f total %.4f\n", day, res.Path.Residual[i], res.Path.Total[i])
	}

	next := "n/a"
	if res.NextEventDate != nil {
		next = res.NextEventDate.Format(time.DateOnly)
	}
	fmt.Fprintf(&b, "\nNext earnings date: %s\n", next)

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteAll creates outdir and writes result.json, event_iv.csv, surface.csv
// and path.csv. It returns the written paths.
func WriteAll(res *volatility.Result, outdir string) ([]string, error) {
	if err := os.MkdirAll(outdir, 0755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	if err := WriteJSON(res, outdir); err != nil {
		return nil, fmt.Errorf("write result.json: %w", err)
	}
	written := []string{filepath.Join(outdir, "result.json")}

	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{"event_iv.csv", func(w io.Writer) error { return WriteEventCSV(w, res.Rows) }},
		{"surface.csv", func(w io.Writer) error { return WriteSurfaceCSV(w, res.Surface) }},
		{"path.csv", func(w io.Writer) error { return WritePathCSV(w, res.Path) }},
	}
	for _, f := range files {
		path := filepath.Join(outdir, f.name)
		if err := writeFile(path, f.write); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
