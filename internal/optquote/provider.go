// Copyright (c) 2025 Neomantra Corp

package optquote

import (
	"context"
	"time"
)

// Provider is the abstract QuoteProvider capability set (spec.md §4.4).
// Implementations are free to apply their own retry/transport policy;
// RateLimitedProvider adds rate-limiting and retry on top of any Provider.
type Provider interface {
	// ResolveSymbology resolves an underlier's options chain symbology
	// for a single valuation date.
	ResolveSymbology(ctx context.Context, dataset, underlier, date string) (SymbologyResolution, error)

	// GetCbboRange fetches the CBBO timeseries for a set of instrument
	// ids over the closed interval [at+eps-window, at+eps], with eps =
	// Lookahead, per schema.
	GetCbboRange(ctx context.Context, ids []string, dataset string, schema Schema, at time.Time, window time.Duration) ([]CbboMsg, error)
}

// Lookahead is the epsilon added to the upper bound of a CBBO range
// request per spec.md §4.4.
const Lookahead = 2 * time.Second
