// Copyright (c) 2025 Neomantra Corp

// Package optplan adaptively requests a chain's CBBO activity around a
// reference time: a 1-second pass for freshness, falling back to a
// 1-minute pass for whatever instruments the 1-second pass couldn't
// cover, each pass splitting its lookback window into sub-requests sized
// to stay under the provider's response-buffer limits, and backing off
// by halving its record budget when the provider reports a decoder
// buffer overflow. It matches original_source's
// RequesterSynchronous::Internal::getPutCallRecordMap, getterLoop and
// getterRetryLoop.
package optplan

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/algoratio/bento-optionchain/internal/optquote"
	"github.com/algoratio/bento-optionchain/internal/optsnapshot"
)

// Config groups RequestPlanner's tunables, matching the constructor
// arguments RequesterSynchronous takes (cbbo1sRange, cbbo1mRange,
// nInstrumentsSplit) plus getPutCallRecordMap's local nMaxRecords and
// nMaxZstdBufferRetries constants.
type Config struct {
	Dataset          string
	Cbbo1SecondRange time.Duration
	Cbbo1MinuteRange time.Duration
	// NMaxRecords is the initial per-request record budget; halved on
	// each decoder-overflow retry, up to MaxZstdRetries times.
	NMaxRecords uint64
	// SplitThreshold caps how many instruments a single sub-request's
	// per-instrument record budget is divided across.
	SplitThreshold uint64
	MaxZstdRetries int
}

// DefaultConfig mirrors getPutCallRecordMap's hardcoded constants
// (nMaxRecords = 1600, nMaxZstdBufferRetries = 3) and spec.md's example
// split threshold of 100, leaving only the dataset and lookback windows
// for the caller to fill in.
func DefaultConfig(dataset string, cbbo1sRange, cbbo1mRange time.Duration) Config {
	return Config{
		Dataset:          dataset,
		Cbbo1SecondRange: cbbo1sRange,
		Cbbo1MinuteRange: cbbo1mRange,
		NMaxRecords:      1600,
		SplitThreshold:   100,
		MaxZstdRetries:   3,
	}
}

// slotWindow buckets the joined CBBO messages into a timeline before
// collapsing to the final per-strike snapshot, matching
// getPutCallRecordMap's std::chrono::seconds(2) bucket width.
const slotWindow = 2 * time.Second

// PlanChain runs the two-pass (1-second then 1-minute) adaptive CBBO
// fetch for every instrument in idToOsi around at, and folds the result
// into a PutCallRecordMap, matching
// RequesterSynchronous::Internal::getPutCallRecordMap.
func PlanChain(ctx context.Context, provider optquote.Provider, cfg Config, idToOsi map[string]string, at time.Time, logger *slog.Logger) (optsnapshot.PutCallRecordMap, error) {
	missing := keyVector(idToOsi)

	secondMaps, residual, err := getterRetryLoop(ctx, provider, cfg, idToOsi, missing, at, cfg.Cbbo1SecondRange, optquote.SchemaCbbo1Second, secDivisor, logger)
	if err != nil {
		return optsnapshot.PutCallRecordMap{}, err
	}
	if logger != nil {
		logger.Info("optplan: completed 1-second pass", "missing", len(residual))
	}

	minuteMaps, _, err := getterRetryLoop(ctx, provider, cfg, idToOsi, residual, at, cfg.Cbbo1MinuteRange, optquote.SchemaCbbo1Minute, minDivisor, logger)
	if err != nil {
		return optsnapshot.PutCallRecordMap{}, err
	}

	joined := joinCbboMaps(append(secondMaps, minuteMaps...))
	timeline, err := optsnapshot.BuildTimeline(joined, idToOsi, slotWindow, logger)
	if err != nil {
		return optsnapshot.PutCallRecordMap{}, err
	}
	return optsnapshot.CollapseTimeline(timeline), nil
}

func keyVector(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func secDivisor(w time.Duration) uint64 { return uint64(w / time.Second) }
func minDivisor(w time.Duration) uint64 { return uint64(w / time.Minute) }

// getterRetryLoop wraps getterLoop, halving cfg.NMaxRecords and retrying
// from scratch whenever the provider reports a decoder buffer overflow,
// up to cfg.MaxZstdRetries times, matching getterRetryLoop.
func getterRetryLoop(
	ctx context.Context,
	provider optquote.Provider,
	cfg Config,
	idToOsi map[string]string,
	missing []string,
	at time.Time,
	window time.Duration,
	schema optquote.Schema,
	divisor func(time.Duration) uint64,
	logger *slog.Logger,
) ([]optsnapshot.InstrumentIDToCbboMap, []string, error) {
	nMaxRecords := cfg.NMaxRecords
	retryCount := 0
	for {
		maps, residual, err := getterLoop(ctx, provider, cfg.Dataset, idToOsi, missing, at, window, schema, nMaxRecords, cfg.SplitThreshold, divisor)
		if err == nil {
			return maps, residual, nil
		}
		if errors.Is(err, optquote.ErrDecoderBufferOverflow) && retryCount < cfg.MaxZstdRetries {
			retryCount++
			nMaxRecords /= 2
			if logger != nil {
				logger.Warn("optplan: retrying after decoder buffer overflow", "n_max_records", nMaxRecords, "schema", schema)
			}
			continue
		}
		return nil, nil, err
	}
}

// getterLoop slices a schema's lookback window into sub-requests sized
// to keep each instrument's expected record count under nMaxRecords,
// shrinking the remaining window and reference time after each request,
// until every instrument has a usable record or the window is
// exhausted, matching getterLoop.
func getterLoop(
	ctx context.Context,
	provider optquote.Provider,
	dataset string,
	idToOsi map[string]string,
	missing []string,
	at time.Time,
	window time.Duration,
	schema optquote.Schema,
	nMaxRecords uint64,
	splitThreshold uint64,
	divisor func(time.Duration) uint64,
) ([]optsnapshot.InstrumentIDToCbboMap, []string, error) {
	var localMaps []optsnapshot.InstrumentIDToCbboMap
	for len(missing) > 0 && window > 0 {
		denom := splitThreshold
		if uint64(len(missing)) < denom {
			denom = uint64(len(missing))
		}
		if denom == 0 {
			denom = 1
		}
		maxPerInstr := nMaxRecords / denom
		if maxPerInstr == 0 {
			maxPerInstr = 1
		}
		expectedPerInstr := divisor(window)
		nSplit := expectedPerInstr/maxPerInstr + 1
		subWindow := window / time.Duration(nSplit)

		queryAt := at
		window -= subWindow
		at = at.Add(-subWindow)

		msgs, err := provider.GetCbboRange(ctx, missing, dataset, schema, queryAt, subWindow)
		if err != nil {
			return nil, missing, err
		}
		subIdToOsi := subsetMap(idToOsi, missing)
		cbboMap := optsnapshot.MapIntoInstrumentLists(msgs, subIdToOsi)
		missing = optsnapshot.FindMissing(cbboMap, subIdToOsi)
		localMaps = append(localMaps, cbboMap)
	}
	return localMaps, missing, nil
}

func subsetMap(idToOsi map[string]string, ids []string) map[string]string {
	sub := make(map[string]string, len(ids))
	for _, id := range ids {
		if osi, ok := idToOsi[id]; ok {
			sub[id] = osi
		}
	}
	return sub
}

// joinCbboMaps unions every schema pass's per-instrument message lists.
// BuildTimeline resolves freshness ties by each record's own RecvTime,
// not by list position, so the only ordering this needs to preserve is
// each list's own arrival order, matching joinCbboMaps.
func joinCbboMaps(maps []optsnapshot.InstrumentIDToCbboMap) optsnapshot.InstrumentIDToCbboMap {
	joined := make(optsnapshot.InstrumentIDToCbboMap)
	for _, m := range maps {
		for id, msgs := range m {
			joined[id] = append(joined[id], msgs...)
		}
	}
	return joined
}
