// Copyright (c) 2025 Neomantra Corp

// Package optrequest drives the end-to-end per-symbol pipeline: resolve
// symbology, enumerate expiries within a DTE window, plan and fetch each
// chain's CBBO activity, assemble and cache the raw chain, then persist
// the gap-filled chain, matching original_source's RequesterSynchronous
// and RequesterAsynchronous.
package optrequest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/algoratio/bento-optionchain/internal/chainpool"
	"github.com/algoratio/bento-optionchain/internal/optcache"
	"github.com/algoratio/bento-optionchain/internal/optchain"
	"github.com/algoratio/bento-optionchain/internal/optmarket"
	"github.com/algoratio/bento-optionchain/internal/optplan"
	"github.com/algoratio/bento-optionchain/internal/optquote"
	"github.com/algoratio/bento-optionchain/internal/optsink"
	"github.com/algoratio/bento-optionchain/internal/optsymbology"
)

// dateFormat is the canonical valuation/expiry date layout used
// throughout the pipeline, matching DataGrid::m_defaultDateFormat.
const dateFormat = "2006-01-02"

// Config groups the per-job tunables RequesterSynchronous's constructor
// takes beyond the provider/cache/sink collaborators themselves.
type Config struct {
	Dataset string
	NDte    int64
	Plan    optplan.Config
}

// Orchestrator runs requestOptionChains synchronously for one symbol at
// a time, matching RequesterSynchronous. AsyncOrchestrator (below) wraps
// it with a JobPool for fire-and-forget submission, matching
// RequesterAsynchronous.
type Orchestrator struct {
	provider optquote.Provider
	model    *optsymbology.Model
	cache    *optcache.Cache
	sink     optsink.Sink
	cfg      Config
	logger   *slog.Logger

	// terminateSignal is polled at the top of RequestOptionChains and
	// before each expiry iteration, matching m_terminateSignal.
	terminateSignal func() bool

	mu       sync.Mutex
	resolved map[string]bool
}

// NewOrchestrator constructs an Orchestrator over its already-wired
// collaborators. terminateSignal may be nil, matching the source's
// default `[](){ return false; }`.
func NewOrchestrator(provider optquote.Provider, model *optsymbology.Model, cache *optcache.Cache, sink optsink.Sink, cfg Config, terminateSignal func() bool, logger *slog.Logger) *Orchestrator {
	if terminateSignal == nil {
		terminateSignal = func() bool { return false }
	}
	return &Orchestrator{
		provider:        provider,
		model:           model,
		cache:           cache,
		sink:            sink,
		cfg:             cfg,
		logger:          logger,
		terminateSignal: terminateSignal,
		resolved:        make(map[string]bool),
	}
}

// RequestOptionChains resolves symbol's instrument table, enumerates
// expiries within the configured DTE window, fetches and assembles each
// chain, submits the raw chains to the cache, and persists the
// gap-filled chains (or a missing-chain notice), matching
// RequesterSynchronous::getOptionChains.
func (o *Orchestrator) RequestOptionChains(ctx context.Context, symbol string, at time.Time, env optmarket.Environment) error {
	if o.terminateSignal() {
		return nil
	}
	o.cache.SubmitMarketEnvironment(symbol, env)
	date := at.Format(dateFormat)

	if err := o.ensureSymbology(ctx, symbol, date); err != nil {
		return fmt.Errorf("optrequest: resolving symbology for %s/%s: %w", symbol, date, err)
	}
	if o.terminateSignal() {
		return nil
	}

	expiryDates, err := o.model.GetExpiryDatesForDTE(symbol, date, o.cfg.NDte)
	if err != nil {
		return fmt.Errorf("optrequest: enumerating expiries for %s/%s: %w", symbol, date, err)
	}
	if len(expiryDates) == 0 || (len(expiryDates) == 1 && expiryDates[0] == date) {
		expiryDates, err = o.model.GetNextExpiryDate(symbol, date)
		if err != nil {
			return fmt.Errorf("optrequest: substituting next expiry for %s/%s: %w", symbol, date, err)
		}
	}
	if o.logger != nil {
		o.logger.Info("optrequest: found expiry dates", "symbol", symbol, "at", at, "dte", o.cfg.NDte, "expiries", expiryDates)
	}

	var builtExpiries []string
	var missing []optsink.MissingEntry

	for _, expiryDate := range expiryDates {
		if o.terminateSignal() {
			if o.logger != nil {
				o.logger.Warn("optrequest: quitting after terminate signal", "symbol", symbol, "expiry_date", expiryDate)
			}
			break
		}

		chain, err := o.fetchAndBuild(ctx, symbol, date, expiryDate, at)
		if err != nil {
			if o.logger != nil {
				o.logger.Error("optrequest: failed to build option chain", "symbol", symbol, "at", at, "expiry_date", expiryDate, "error", err)
			}
			missing = append(missing, optsink.MissingEntry{At: at, ExpiryDate: expiryDate})
			continue
		}
		if !chain.IsValid() {
			if o.logger != nil {
				o.logger.Warn("optrequest: missing chain data", "symbol", symbol, "at", at, "expiry_date", expiryDate)
			}
			missing = append(missing, optsink.MissingEntry{At: at, ExpiryDate: expiryDate})
			continue
		}
		if o.logger != nil {
			o.logger.Info("optrequest: built raw chain", "symbol", symbol, "expiry_date", expiryDate)
		}
		o.cache.Submit(chain)
		builtExpiries = append(builtExpiries, expiryDate)
	}

	for _, expiryDate := range builtExpiries {
		enhanced, err := o.cache.GetOptionChain(symbol, expiryDate, at, o.logger)
		if err != nil {
			if o.logger != nil {
				o.logger.Error("optrequest: failed to retrieve enhanced chain", "symbol", symbol, "at", at, "expiry_date", expiryDate, "error", err)
			}
			missing = append(missing, optsink.MissingEntry{At: at, ExpiryDate: expiryDate})
			continue
		}
		if o.logger != nil {
			o.logger.Info("optrequest: persisting enhanced chain", "symbol", symbol, "expiry_date", enhanced.ExpiryDate)
		}
		if err := o.sink.Persist(enhanced, env, o.logger); err != nil {
			if o.logger != nil {
				o.logger.Error("optrequest: failed to persist chain", "symbol", symbol, "expiry_date", expiryDate, "error", err)
			}
			missing = append(missing, optsink.MissingEntry{At: at, ExpiryDate: expiryDate})
		}
	}

	if len(missing) > 0 {
		if err := o.sink.PersistMissing(symbol, date, missing); err != nil {
			return fmt.Errorf("optrequest: persisting missing list for %s/%s: %w", symbol, date, err)
		}
	}
	return nil
}

// ensureSymbology resolves symbol's symbology for date exactly once,
// matching Internal::getOptionInstruments's memoized lookup.
func (o *Orchestrator) ensureSymbology(ctx context.Context, symbol, date string) error {
	key := symbol + "_" + date
	o.mu.Lock()
	if o.resolved[key] {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	resolution, err := o.provider.ResolveSymbology(ctx, o.cfg.Dataset, symbol, date)
	if err != nil {
		return err
	}
	o.model.Insert(resolution)

	o.mu.Lock()
	o.resolved[key] = true
	o.mu.Unlock()
	return nil
}

// fetchAndBuild runs the RequestPlanner over one expiry's instrument
// table and assembles the resulting raw OptionChain, matching the body
// of RequesterSynchronous::getOptionChains's per-expiry loop plus
// Internal::getPutCallRecordMap.
func (o *Orchestrator) fetchAndBuild(ctx context.Context, symbol, date, expiryDate string, at time.Time) (optchain.OptionChain, error) {
	chain := o.model.GetStrikeKeyPutCallMap(symbol, date, expiryDate)
	if chain == nil {
		return optchain.OptionChain{}, fmt.Errorf("optrequest: no instrument table for %s/%s/%s", symbol, date, expiryDate)
	}
	idToOsi := optsymbology.MakeInstrumentIDToOsiMap(*chain)

	if o.logger != nil {
		o.logger.Info("optrequest: getting CBBOs", "symbol", symbol, "expiry_date", expiryDate, "n_instruments", len(idToOsi))
	}
	records, err := optplan.PlanChain(ctx, o.provider, o.cfg.Plan, idToOsi, at, o.logger)
	if err != nil {
		return optchain.OptionChain{}, err
	}
	return optchain.Build(records, o.model, symbol, date, expiryDate, o.logger)
}

// AsyncOrchestrator wraps Orchestrator with a JobPool so callers can fire
// many symbol requests concurrently and consolidate results, matching
// RequesterAsynchronous.
type AsyncOrchestrator struct {
	*Orchestrator
	pool *chainpool.JobPool
}

// NewAsyncOrchestrator wraps orch with a JobPool of nThreads workers.
func NewAsyncOrchestrator(orch *Orchestrator, nThreads int) *AsyncOrchestrator {
	return &AsyncOrchestrator{Orchestrator: orch, pool: chainpool.NewJobPool(nThreads)}
}

// Post submits a single RequestOptionChains job, returning its JobID, or
// JobID(0) if the terminate signal is already set, matching
// RequesterAsynchronous::requestOptionChains.
func (a *AsyncOrchestrator) Post(ctx context.Context, symbol string, at time.Time, env optmarket.Environment) chainpool.JobID {
	if a.terminateSignal() {
		if a.logger != nil {
			a.logger.Warn("optrequest: skipping option chain request due to terminate signal", "symbol", symbol, "at", at)
		}
		return 0
	}
	return a.pool.Post(func() {
		if err := a.RequestOptionChains(ctx, symbol, at, env); err != nil && a.logger != nil {
			a.logger.Error("optrequest: job failed", "symbol", symbol, "at", at, "error", err)
		}
	})
}

// Query drains every currently-available completed job result, matching
// RequesterAsynchronous::query's delegation to ThreadPool::query.
func (a *AsyncOrchestrator) Query() map[chainpool.JobID]chainpool.Result {
	return a.pool.QueryAll()
}

// Join blocks until every posted job has completed.
func (a *AsyncOrchestrator) Join() {
	a.pool.Join()
}
