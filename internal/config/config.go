// Package config loads the run configuration from YAML with defaults,
// environment overrides and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/contactkeval/event-vol/internal/volatility"
)

type Config struct {
	// Rest serves requests instead of running once; each request then names
	// its own underlying.
	Rest bool `yaml:"rest"`

	Underlying  string `yaml:"underlying" validate:"required_unless=Rest true"`
	Expirations int    `yaml:"expirations" default:"4" validate:"gte=1"`
	AsOf        string `yaml:"as_of" validate:"omitempty,datetime=2006-01-02"`
	EventDate   string `yaml:"event_date" validate:"omitempty,datetime=2006-01-02"`

	Provider string  `yaml:"provider" default:"auto" validate:"oneof=auto massive polygon csv synthetic"`
	CSVPath  string  `yaml:"csv_path" validate:"required_if=Provider csv"`
	RiskFree float64 `yaml:"risk_free" default:"0.04" validate:"gte=0,lt=1"`

	Policy string `yaml:"policy" default:"variance" validate:"oneof=variance linear"`
	Fit    struct {
		MaxIterations int     `yaml:"max_iterations" default:"5000" validate:"gt=0"`
		Tolerance     float64 `yaml:"tolerance" default:"1.49012e-8" validate:"gt=0"`
	} `yaml:"fit"`
	Surface struct {
		DecayLambda float64 `yaml:"decay_lambda" default:"0.30" validate:"gte=0"`
		MaxDays     int     `yaml:"max_days" default:"10" validate:"gte=0"`
		TenorPoints int     `yaml:"tenor_points" default:"50" validate:"gte=2"`
		TargetTenor float64 `yaml:"target_tenor" default:"5" validate:"gte=0"`
	} `yaml:"surface"`
	Filters []string `yaml:"filters"`

	ReportDir string `yaml:"report_dir" default:"./out"`
	Verbosity int    `yaml:"verbosity" default:"1" validate:"gte=0,lte=3"`
	LogFormat string `yaml:"log_format" default:"console" validate:"oneof=console json"`
	Metrics   struct {
		Textfile string `yaml:"textfile"`
	} `yaml:"metrics"`
	Server struct {
		Port int `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
	} `yaml:"server"`

	APIKeys struct {
		Massive      string `yaml:"massive"`
		AlphaVantage string `yaml:"alphavantage"`
	} `yaml:"api_keys"`
}

var validate = validator.New()

// Default returns a Config holding only default values.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(err) // tags are static
	}
	return &c
}

// Load reads the YAML file at path over the defaults. An empty path yields the
// defaults alone. The result is not validated.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", volatility.ErrConfiguration, err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML, applies environment overrides and
// validates the result.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.ApplyEnv(os.Getenv)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("MASSIVE_API_KEY"); v != "" {
		c.APIKeys.Massive = v
	} else if v := getenv("POLYGON_API_KEY"); v != "" && c.APIKeys.Massive == "" {
		c.APIKeys.Massive = v
	}
	if v := getenv("ALPHAVANTAGE_API_KEY"); v != "" {
		c.APIKeys.AlphaVantage = v
	}
	if v := getenv("EVENTVOL_UNDERLYING"); v != "" {
		c.Underlying = v
	}
	c.Underlying = strings.ToUpper(strings.TrimSpace(c.Underlying))
}

// Validate checks every field; failures wrap volatility.ErrConfiguration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", volatility.ErrConfiguration, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", volatility.ErrConfiguration, err)
	}
	if _, err := volatility.ParsePolicy(c.Policy); err != nil {
		return err
	}
	return nil
}

// AsOfDate returns as_of, or today's UTC date when unset.
func (c *Config) AsOfDate(now time.Time) time.Time {
	if t, err := time.Parse(time.DateOnly, c.AsOf); err == nil {
		return t
	}
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EventDateOverride returns event_date when set.
func (c *Config) EventDateOverride() *time.Time {
	t, err := time.Parse(time.DateOnly, c.EventDate)
	if err != nil {
		return nil
	}
	return &t
}

// Options maps the configuration onto pipeline options.
func (c *Config) Options(now time.Time) volatility.Options {
	opts := volatility.DefaultOptions()
	opts.Underlying = c.Underlying
	opts.AsOf = c.AsOfDate(now)
	opts.Policy = volatility.Policy(c.Policy)
	opts.Fit = volatility.FitOptions{MaxIterations: c.Fit.MaxIterations, Tolerance: c.Fit.Tolerance}
	opts.Surface = volatility.SurfaceConfig{
		DecayLambda: c.Surface.DecayLambda,
		MaxDays:     c.Surface.MaxDays,
		TenorPoints: c.Surface.TenorPoints,
	}
	opts.TargetTenor = c.Surface.TargetTenor
	return opts
}
