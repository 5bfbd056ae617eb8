// Copyright (c) 2025 Neomantra Corp

// Package optconfig binds and validates the recognized configuration
// options of spec.md §6 (symbols, date/time, dte, output layout, rate
// lookup, lane sizes, retries, cache tolerance, request windows, API key
// acquisition) the way cmd/dbn-go-hist's cobra/pflag commands bind their
// own global flag variables.
package optconfig

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/neomantra/ymdflag"
	"github.com/relvacode/iso8601"
	"github.com/spf13/pflag"

	"github.com/algoratio/bento-optionchain/internal/optmarket"
)

// Config groups every recognized option from spec.md §6. Flag names
// mirror the table's option column exactly (lower-case, no separators)
// so BindFlags's --flag names double as the table's documentation.
type Config struct {
	Symbols []string
	Date    string
	Time    string
	Dte     int64

	Dataset  string
	BasePath string

	OutDateDirs bool
	CSVStacked  bool

	RiskFreeRate float64
	YieldCurve   string

	SymbologyThreads  int
	TimeseriesThreads int
	JobPoolThreads    int
	Retries           int

	LookupTimeRange  time.Duration
	Cbbo1STimeRange  time.Duration
	Cbbo1MTimeRange  time.Duration

	KeyScript   string
	LogLevel    string
	LogThreadID bool
}

// Default returns a Config with the defaults spec.md §4.6/§4.10 cite as
// examples: split threshold 100 (see internal/optplan.DefaultConfig),
// nMaxRecords 1600, cbbo1s range 10s, cbbo1m range 30m, lookup tolerance
// 5 minutes.
func Default() Config {
	return Config{
		Dte:               0,
		Dataset:           "opra.pillar",
		BasePath:          ".",
		RiskFreeRate:      0.05,
		SymbologyThreads:  4,
		TimeseriesThreads: 16,
		JobPoolThreads:    32,
		Retries:           3,
		LookupTimeRange:   5 * time.Minute,
		Cbbo1STimeRange:   10 * time.Second,
		Cbbo1MTimeRange:   30 * time.Minute,
		LogLevel:          "info",
	}
}

// BindFlags registers every Config field against fs, matching
// cmd/dbn-go-hist/main.go's global-flag-variable registration style
// (StringVarP/BoolVarP/IntVarP against package-level vars, here against
// struct fields instead).
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringSliceVar(&c.Symbols, "symbols", c.Symbols, "comma-separated list of underliers")
	fs.StringVar(&c.Date, "date", c.Date, "valuation date (YYYY-MM-DD), interpreted in the exchange close timezone")
	fs.StringVar(&c.Time, "time", c.Time, "valuation time (HH:MM[:SS]), interpreted in the exchange close timezone")
	fs.Int64Var(&c.Dte, "dte", c.Dte, "max days-to-expiry from the valuation date")
	fs.StringVar(&c.Dataset, "dataset", c.Dataset, "Databento dataset code (e.g. opra.pillar)")
	fs.StringVar(&c.BasePath, "basepath", c.BasePath, "output directory root")
	fs.BoolVar(&c.OutDateDirs, "outdatedirs", c.OutDateDirs, "add a per-date subdirectory under basepath")
	fs.BoolVar(&c.CSVStacked, "csvstacked", c.CSVStacked, "emit one-row-per-side CSV instead of side-by-side")
	fs.Float64Var(&c.RiskFreeRate, "riskfreerate", c.RiskFreeRate, "fallback continuously compounded risk-free rate")
	fs.StringVar(&c.YieldCurve, "yieldcurve", c.YieldCurve, "yield-curve CSV file path; accepted but not read, rates always come from riskfreerate")
	fs.IntVar(&c.SymbologyThreads, "symbologythreads", c.SymbologyThreads, "symbology lane size (1..10)")
	fs.IntVar(&c.TimeseriesThreads, "timeseriesthreads", c.TimeseriesThreads, "timeseries lane size (1..100)")
	fs.IntVar(&c.JobPoolThreads, "jobpoolthreads", c.JobPoolThreads, "per-symbol job pool size")
	fs.IntVar(&c.Retries, "retries", c.Retries, "per-call retries (0..5)")
	fs.DurationVar(&c.LookupTimeRange, "lookuptimerange", c.LookupTimeRange, "ChainCache nearness tolerance")
	fs.DurationVar(&c.Cbbo1STimeRange, "cbbo1stimerange", c.Cbbo1STimeRange, "1-second schema lookback window")
	fs.DurationVar(&c.Cbbo1MTimeRange, "cbbo1mtimerange", c.Cbbo1MTimeRange, "1-minute schema lookback window")
	fs.StringVar(&c.KeyScript, "keyscript", c.KeyScript, "external executable producing the API key on stdout")
	fs.StringVar(&c.LogLevel, "loglevel", c.LogLevel, "log/slog level (debug, info, warn, error)")
	fs.BoolVar(&c.LogThreadID, "logthreadid", c.LogThreadID, "accepted but not used; log lines carry no job id")
}

// ErrInvalidConfig wraps every Validate failure so callers can
// distinguish setup errors (exit code 1 per spec.md §7) from batch
// failures.
type ErrInvalidConfig struct{ Msg string }

func (e *ErrInvalidConfig) Error() string { return "optconfig: " + e.Msg }

// Validate enforces the numeric ranges spec.md §6 documents
// (symbologythreads 1..10, timeseriesthreads 1..100, retries 0..5) and
// the lane-pool/JobPool-size invariant spec.md §5 states as an
// operational convention, promoted here to a checked construction-time
// error (see DESIGN.md Open Question decisions).
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return &ErrInvalidConfig{"at least one symbol is required"}
	}
	if c.SymbologyThreads < 1 || c.SymbologyThreads > 10 {
		return &ErrInvalidConfig{fmt.Sprintf("symbologythreads must be in 1..10, got %d", c.SymbologyThreads)}
	}
	if c.TimeseriesThreads < 1 || c.TimeseriesThreads > 100 {
		return &ErrInvalidConfig{fmt.Sprintf("timeseriesthreads must be in 1..100, got %d", c.TimeseriesThreads)}
	}
	if c.Retries < 0 || c.Retries > 5 {
		return &ErrInvalidConfig{fmt.Sprintf("retries must be in 0..5, got %d", c.Retries)}
	}
	if c.SymbologyThreads >= c.JobPoolThreads || c.TimeseriesThreads >= c.JobPoolThreads {
		return &ErrInvalidConfig{fmt.Sprintf(
			"lane pool sizes (symbology=%d, timeseries=%d) must both be strictly less than jobpoolthreads=%d",
			c.SymbologyThreads, c.TimeseriesThreads, c.JobPoolThreads)}
	}
	return nil
}

// UpperSymbols returns Symbols upper-cased, matching spec.md §6's
// "Comma-separated list of underliers; upper-cased".
func (c *Config) UpperSymbols() []string {
	out := make([]string, len(c.Symbols))
	for i, s := range c.Symbols {
		out[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return out
}

// ValuationTime combines Date and Time in exchangeClose's timezone and
// returns the UTC instant, matching spec.md §6's "interpreted in
// exchange_close timezone". A blank Time defaults to the exchange's
// close time itself.
func (c *Config) ValuationTime(exchangeClose optmarket.ExchangeClose) (time.Time, error) {
	date, err := time.Parse("2006-01-02", c.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("optconfig: parsing date %q: %w", c.Date, err)
	}
	loc := exchangeClose.Location()
	if c.Time == "" {
		return time.Date(date.Year(), date.Month(), date.Day(), exchangeClose.Hour, exchangeClose.Minute, 0, 0, loc).UTC(), nil
	}
	layout := "15:04"
	if strings.Count(c.Time, ":") == 2 {
		layout = "15:04:05"
	}
	clock, err := time.ParseInLocation(layout, c.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("optconfig: parsing time %q: %w", c.Time, err)
	}
	local := time.Date(date.Year(), date.Month(), date.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, loc)
	return local.UTC(), nil
}

// ValuationYMD is the Date field rendered as ymdflag's packed YYYYMMDD
// integer form. The per-date output subdirectory does not use it: the
// sinks name that directory with the YYYY-MM-DD date string.
func (c *Config) ValuationYMD() (int, error) {
	date, err := time.Parse("2006-01-02", c.Date)
	if err != nil {
		return 0, fmt.Errorf("optconfig: parsing date %q: %w", c.Date, err)
	}
	return ymdflag.TimeToYMD(date), nil
}

// ParseAt parses a free-form ISO-8601 instant, matching
// cmd/dbn-go-hist/main.go's requireDateRange use of
// github.com/relvacode/iso8601 for --start/--end flags. It is offered as
// an alternative to Date+Time for callers that already have a single
// instant.
func ParseAt(s string) (time.Time, error) {
	t, err := iso8601.ParseString(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("optconfig: parsing instant %q: %w", s, err)
	}
	return t, nil
}

// ResolveAPIKey returns the Databento API key: the DATABENTO_API_KEY
// environment variable if set, otherwise the stdout of KeyScript (an
// external executable, per spec.md §6's "keyscript" option and
// spec.md §1's "API-key acquisition via an external script" external
// collaborator).
func (c *Config) ResolveAPIKey() (string, error) {
	if key := os.Getenv("DATABENTO_API_KEY"); key != "" {
		return key, nil
	}
	if c.KeyScript == "" {
		return "", &ErrInvalidConfig{"no DATABENTO_API_KEY set and no keyscript configured"}
	}
	out, err := exec.Command(c.KeyScript).Output()
	if err != nil {
		return "", fmt.Errorf("optconfig: running keyscript %q: %w", c.KeyScript, err)
	}
	key := strings.TrimSpace(string(out))
	if key == "" {
		return "", fmt.Errorf("optconfig: keyscript %q produced no output", c.KeyScript)
	}
	return key, nil
}

// ParseRetriesFlag is a small helper for callers constructing a Config
// from a plain string map (e.g. an MCP tool call) instead of pflag,
// matching the numeric bounds enforced in Validate.
func ParseRetriesFlag(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("optconfig: parsing retries %q: %w", s, err)
	}
	if n < 0 || n > 5 {
		return 0, &ErrInvalidConfig{fmt.Sprintf("retries must be in 0..5, got %d", n)}
	}
	return n, nil
}
