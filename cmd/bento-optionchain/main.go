// Copyright (c) 2025 Neomantra Corp
//
// bento-optionchain retrieves and gap-fills historical US equity option
// chains from Databento and writes them as CSV or Parquet, matching
// original_source's bentoclient command-line tool.
//
// NOTE: this incurs Databento billing, handle with care!
//

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/algoratio/bento-optionchain/internal/chainpool"
	"github.com/algoratio/bento-optionchain/internal/optcache"
	"github.com/algoratio/bento-optionchain/internal/optconfig"
	"github.com/algoratio/bento-optionchain/internal/optmarket"
	"github.com/algoratio/bento-optionchain/internal/optplan"
	"github.com/algoratio/bento-optionchain/internal/optquote"
	"github.com/algoratio/bento-optionchain/internal/optrequest"
	"github.com/algoratio/bento-optionchain/internal/optsink"
	"github.com/algoratio/bento-optionchain/internal/optsymbology"
	"github.com/algoratio/bento-optionchain/internal/opttui"

	"log/slog"
)

///////////////////////////////////////////////////////////////////////////////

const toolVersion = "0.0.1"

var cfg = optconfig.Default()

var rootCmd = &cobra.Command{
	Use:     "bento-optionchain",
	Short:   "bento-optionchain retrieves and gap-fills historical option chains from Databento.",
	Long:    "bento-optionchain retrieves and gap-fills historical option chains from Databento, writing a put/call chain per underlier/expiry as CSV or Parquet.",
	Version: toolVersion,
}

var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"r"},
	Short:   "Retrieve and persist option chains for the configured symbols",
	Args:    cobra.NoArgs,
	Run:     runRun,
}

func main() {
	cfg.BindFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().BoolVarP(&emitParquet, "parquet", "", false, "write Arrow/Parquet files instead of CSV")
	runCmd.Flags().BoolVarP(&useTUI, "tui", "", false, "show a live job-progress TUI instead of printing status lines")

	rootCmd.AddCommand(runCmd)

	requireNoError(rootCmd.Execute())
}

var (
	emitParquet bool
	useTUI      bool
)

///////////////////////////////////////////////////////////////////////////////

func runRun(cmd *cobra.Command, args []string) {
	requireNoError(cfg.Validate())
	cfg.Symbols = cfg.UpperSymbols()

	apiKey, err := cfg.ResolveAPIKey()
	requireNoErrorMsg(err, "failed to resolve Databento API key:")

	logger := newLogger(cfg.LogLevel)

	at, err := cfg.ValuationTime(optmarket.NasdaqClose)
	requireNoErrorMsg(err, "failed to compute valuation time:")

	env := optmarket.NewStaticEnvironment(cfg.RiskFreeRate, optmarket.NasdaqClose)

	planCfg := optplan.DefaultConfig(cfg.Dataset, cfg.Cbbo1STimeRange, cfg.Cbbo1MTimeRange)

	inner := optquote.NewDatabentoProvider(apiKey)
	provider := optquote.NewRateLimitedProvider(inner, int64(cfg.SymbologyThreads), int64(cfg.TimeseriesThreads), int(planCfg.SplitThreshold), cfg.Retries, logger)
	defer provider.Close()

	model := optsymbology.NewModel()
	cache := optcache.NewCache(cfg.LookupTimeRange)

	var sink optsink.Sink
	if emitParquet {
		sink = optsink.NewArrowSink(cfg.BasePath, cfg.OutDateDirs)
	} else {
		format := optsink.Stacked
		if !cfg.CSVStacked {
			format = optsink.SideBySide
		}
		sink = optsink.NewCSVSink(cfg.BasePath, cfg.OutDateDirs, format)
	}

	reqCfg := optrequest.Config{
		Dataset: cfg.Dataset,
		NDte:    cfg.Dte,
		Plan:    planCfg,
	}

	orch := optrequest.NewOrchestrator(provider, model, cache, sink, reqCfg, nil, logger)
	async := optrequest.NewAsyncOrchestrator(orch, cfg.JobPoolThreads)

	ctx := context.Background()
	jobs := make(map[chainpool.JobID]string, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		id := async.Post(ctx, symbol, at, env)
		jobs[id] = symbol
		fmt.Fprintf(os.Stdout, "submitted  %-8s  job=%d\n", symbol, id)
	}

	if useTUI {
		if err := opttui.Run(opttui.NewModel(async, jobs)); err != nil {
			requireNoError(err)
		}
		return
	}

	async.Join()
	results := async.Query()

	var nOK, nFailed int
	for id, symbol := range jobs {
		result, ok := results[id]
		switch {
		case !ok:
			fmt.Fprintf(os.Stdout, "unknown    %-8s  job=%d\n", symbol, id)
		case result.Failed:
			nFailed++
			fmt.Fprintf(os.Stdout, "failed     %-8s  job=%d  %s\n", symbol, id, result.Message)
		default:
			nOK++
			fmt.Fprintf(os.Stdout, "received   %-8s  job=%d\n", symbol, id)
		}
	}

	logger.Info("run complete", "symbols", len(cfg.Symbols), "ok", nOK, "failed", nFailed,
		"elapsed", humanize.Time(at))

	if nFailed > 0 {
		os.Exit(1)
	}
}

///////////////////////////////////////////////////////////////////////////////

// newLogger builds a text log/slog.Logger at levelName, matching the
// teacher's own cmd/dbn-go-mcp-data's level/format setup.
func newLogger(levelName string) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// requireNoError exits with the error message on stderr if err is set,
// matching cmd/dbn-go-hist/main.go's requireNoError.
func requireNoError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
		os.Exit(1)
	}
}

// requireNoErrorMsg is requireNoError with a caller-supplied prefix,
// matching cmd/dbn-go-hist/main.go's requireNoErrorMsg.
func requireNoErrorMsg(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", msg, err.Error())
		os.Exit(1)
	}
}

