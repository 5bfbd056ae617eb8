// Copyright (c) 2025 Neomantra Corp

package optquote

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/algoratio/bento-optionchain/internal/chainpool"
	"github.com/algoratio/bento-optionchain/internal/chainretry"
)

// RateLimitedProvider wraps a Provider with two independently sized
// concurrency lanes -- one for symbology.resolve calls, one for
// timeseries.get_range calls -- plus bounded retry on each call. This
// mirrors original_source's GetterAsynchronous, which fans a single
// Getter out across a dedicated thread pool per request kind so a burst
// of timeseries requests never starves symbology lookups (and vice
// versa).
type RateLimitedProvider struct {
	inner          Provider
	symbologyPool  *chainpool.Pool[SymbologyResolution]
	timeseriesPool *chainpool.Pool[[]CbboMsg]
	splitThreshold int
	nRetries       int
	logger         *slog.Logger
}

// NewRateLimitedProvider wraps inner with symbologyLanes concurrent
// symbology.resolve slots and timeseriesLanes concurrent
// timeseries.get_range slots, retrying each call up to nRetries times.
// splitThreshold is the max number of instrument ids sent in a single
// timeseries.get_range call (source's m_nInstrumentsSplit); callers
// should pass the same value used for optplan.Config.SplitThreshold.
func NewRateLimitedProvider(inner Provider, symbologyLanes, timeseriesLanes int64, splitThreshold, nRetries int, logger *slog.Logger) *RateLimitedProvider {
	return &RateLimitedProvider{
		inner:          inner,
		symbologyPool:  chainpool.NewPool[SymbologyResolution](symbologyLanes),
		timeseriesPool: chainpool.NewPool[[]CbboMsg](timeseriesLanes),
		splitThreshold: splitThreshold,
		nRetries:       nRetries,
		logger:         logger,
	}
}

// ResolveSymbology implements Provider, queued onto the symbology lane.
func (p *RateLimitedProvider) ResolveSymbology(ctx context.Context, dataset, underlier, date string) (SymbologyResolution, error) {
	future := p.symbologyPool.Submit(ctx, func(ctx context.Context) (SymbologyResolution, error) {
		return chainretry.Retry(func() (SymbologyResolution, error) {
			res, err := p.inner.ResolveSymbology(ctx, dataset, underlier, date)
			return res, classify(err)
		}, p.nRetries, p.logger)
	})
	return future.Await()
}

// GetCbboRange implements Provider, queued onto the timeseries lane. If
// ids exceeds splitThreshold it is split into balanced chunks; all
// chunks are fired as chainretry.DelayedRetry handles before any is
// awaited, then retrieved and spliced back into a single slice in
// submission order -- mirroring GetterAsynchronous::getCbboTimeseriesRange's
// splitVector/RetryDelayed/joinLists shape, which fires every sub-request
// before consolidating retries so the split never serializes behind its
// own backoff.
func (p *RateLimitedProvider) GetCbboRange(ctx context.Context, ids []string, dataset string, schema Schema, at time.Time, window time.Duration) ([]CbboMsg, error) {
	if len(ids) <= p.splitThreshold {
		future := p.timeseriesPool.Submit(ctx, func(ctx context.Context) ([]CbboMsg, error) {
			return chainretry.Retry(func() ([]CbboMsg, error) {
				msgs, err := p.inner.GetCbboRange(ctx, ids, dataset, schema, at, window)
				return msgs, classify(err)
			}, p.nRetries, p.logger)
		})
		return future.Await()
	}

	chunks := splitIDs(ids, p.splitThreshold)
	handles := make([]*chainretry.DelayedRetry[[]CbboMsg], len(chunks))
	for i, chunk := range chunks {
		chunk := chunk
		handles[i] = chainretry.NewDelayedRetry(func() chainretry.Awaiter[[]CbboMsg] {
			return p.timeseriesPool.Submit(ctx, func(ctx context.Context) ([]CbboMsg, error) {
				msgs, err := p.inner.GetCbboRange(ctx, chunk, dataset, schema, at, window)
				return msgs, classify(err)
			})
		}, p.nRetries, p.logger)
	}
	return joinResults(handles)
}

// Close releases both lane pools.
func (p *RateLimitedProvider) Close() {
	p.symbologyPool.Close()
	p.timeseriesPool.Close()
}

// splitIDs partitions ids into ceil(len(ids)/nSplit) chunks of roughly
// equal size, none longer than nSplit, preserving order.
func splitIDs(ids []string, nSplit int) [][]string {
	if nSplit <= 0 || len(ids) <= nSplit {
		return [][]string{ids}
	}
	n := (len(ids) + nSplit - 1) / nSplit
	chunks := make([][]string, 0, n)
	for i := 0; i < n; i++ {
		chunks = append(chunks, ids[i*len(ids)/n:(i+1)*len(ids)/n])
	}
	return chunks
}

// joinResults retrieves every handle in submission order and
// concatenates their results, matching GetterAsynchronous's joinLists.
// The first error encountered, in submission order, is returned.
func joinResults(handles []*chainretry.DelayedRetry[[]CbboMsg]) ([]CbboMsg, error) {
	var joined []CbboMsg
	for _, h := range handles {
		msgs, err := h.Retrieve()
		if err != nil {
			return nil, err
		}
		joined = append(joined, msgs...)
	}
	return joined, nil
}

// classify promotes a known non-retryable failure to a
// chainretry.NoRetryError, matching original_source/src/retry.cpp's
// Retry::noRetryError classifier: authentication failures and decoder
// buffer overflows are never worth retrying.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAuthentication) || errors.Is(err, ErrDecoderBufferOverflow) {
		return chainretry.NoRetry(err)
	}
	return err
}
