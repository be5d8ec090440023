package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/contactkeval/event-vol/internal/config"
	"github.com/contactkeval/event-vol/internal/data"
	"github.com/contactkeval/event-vol/internal/logger"
	"github.com/contactkeval/event-vol/internal/metrics"
	"github.com/contactkeval/event-vol/internal/report"
	"github.com/contactkeval/event-vol/internal/server"
	"github.com/contactkeval/event-vol/internal/volatility"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults only when empty)")
	underlying := flag.String("underlying", "", "override the configured underlying")
	rest := flag.Bool("rest", false, "run as REST server")
	port := flag.Int("port", 0, "REST server port (overrides config)")
	flag.Parse()

	logger.Setup(os.Stderr, "console")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(2)
	}
	cfg.ApplyEnv(os.Getenv)
	if *underlying != "" {
		cfg.Underlying = strings.ToUpper(*underlying)
	}
	cfg.Rest = cfg.Rest || *rest
	if err := cfg.Validate(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(2)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger.Setup(os.Stderr, cfg.LogFormat)
	logger.SetVerbosity(cfg.Verbosity)

	prov, err := data.NewProvider(data.ProviderOptions{
		Kind:      cfg.Provider,
		APIKey:    cfg.APIKeys.Massive,
		CSVPath:   cfg.CSVPath,
		EventDate: cfg.EventDateOverride(),
		RiskFree:  cfg.RiskFree,
	})
	if err != nil {
		logger.Errorf("provider: %v", err)
		os.Exit(2)
	}
	logger.Infof("%s provider enabled", prov.Name())

	filter, err := data.NewQuoteFilter(cfg.Filters)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(2)
	}

	var earnings *data.EarningsClient
	if cfg.APIKeys.AlphaVantage != "" {
		earnings = data.NewEarningsClient(cfg.APIKeys.AlphaVantage)
	}
	recorder := metrics.New()

	if cfg.Rest {
		serve(cfg, server.Deps{
			Provider: prov,
			Filter:   filter,
			Earnings: earnings,
			Recorder: recorder,
			Defaults: cfg.Options(time.Now()),
		})
		return
	}

	opts := cfg.Options(time.Now())
	res, err := analyze(context.Background(), prov, filter, earnings, cfg, opts)
	recorder.RecordRun(opts.Policy, res, err, durationOf(res))
	if cfg.Metrics.Textfile != "" {
		if werr := recorder.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
			logger.Errorf("metrics textfile: %v", werr)
		}
	}
	if err != nil {
		logger.Errorf("run failed (%s): %v", metrics.Status(err), err)
		os.Exit(1)
	}

	files, err := report.WriteAll(res, cfg.ReportDir)
	if err != nil {
		logger.Errorf("writing reports: %v", err)
		os.Exit(1)
	}
	if err := report.WriteSummary(os.Stdout, res); err != nil {
		logger.Errorf("%v", err)
	}
	logger.Infof("finished in %v, wrote %d files to %s", res.Duration, len(files), cfg.ReportDir)
}

func analyze(ctx context.Context, prov data.Provider, filter *data.QuoteFilter, earnings *data.EarningsClient, cfg *config.Config, opts volatility.Options) (*volatility.Result, error) {
	chain, err := data.FetchChain(ctx, prov, cfg.Underlying, opts.AsOf, cfg.Expirations)
	if err != nil {
		return nil, err
	}
	obs, err := data.Observations(chain, filter)
	if err != nil {
		return nil, err
	}
	opts.NextEventDate = data.ResolveEventDate(ctx, earnings, cfg.Underlying, opts.AsOf, cfg.EventDateOverride())
	return volatility.Run(obs, opts)
}

func durationOf(res *volatility.Result) time.Duration {
	if res == nil {
		return 0
	}
	return res.Duration
}

func serve(cfg *config.Config, deps server.Deps) {
	srv := server.New(deps)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(fmt.Sprintf(":%d", cfg.Server.Port)) }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Errorf("http server: %v", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Errorf("%v", err)
		}
	}
}
