// Copyright (c) 2025 Neomantra Corp

// Package optquote defines the abstract QuoteProvider capability set and
// a RateLimitedProvider that composes it with independently-sized
// concurrency lanes for symbology and timeseries requests.
//
// The retrieved copy of the teacher tree wires its binary/JSON DBN
// scanners (dbn_scanner.go, json_scanner.go, visitor.go, null_visitor.go)
// against a CbboMsg/BidAskPair pair of types that are referenced but never
// defined anywhere in structs.go -- a pre-existing gap in that tree.
// Reconciling that gap is outside this module's domain scope, so CbboMsg
// here is defined directly against spec.md's data model and
// original_source's databento::CbboMsg usage, decoded from the historical
// API's JSON encoding rather than the inconsistent binary scanner path.
package optquote

import (
	"errors"
	"time"
)

// Schema selects the CBBO cadence requested from the provider.
type Schema int

const (
	SchemaCbbo1Second Schema = iota
	SchemaCbbo1Minute
)

func (s Schema) String() string {
	switch s {
	case SchemaCbbo1Second:
		return "cbbo-1s"
	case SchemaCbbo1Minute:
		return "cbbo-1m"
	default:
		return ""
	}
}

// BidAskPair is the top-of-book level carried by a CbboMsg.
type BidAskPair struct {
	BidPx int64  `json:"bid_px"`
	AskPx int64  `json:"ask_px"`
	BidSz uint32 `json:"bid_sz"`
	AskSz uint32 `json:"ask_sz"`
}

// CbboMsg is the minimal consolidated best-bid-offer record this pipeline
// consumes: instrument id, trade timestamp/arrival timestamp, trade
// price/size, and the single top-of-book level. Prices are
// integer-scaled by 1e9 per spec.md §4.4; see PriceToFloat64.
type CbboMsg struct {
	InstrumentID uint32     `json:"instrument_id"`
	TsEvent      uint64     `json:"ts_event"`
	TsRecv       uint64     `json:"ts_recv"`
	Price        int64      `json:"price"`
	Size         uint32     `json:"size"`
	Level        BidAskPair `json:"levels_0"`
}

// PriceScale is the fixed-point denominator for all DBN-derived prices
// (1 unit = 1e-9), matching the teacher's FIXED_PRICE_SCALE convention.
const PriceScale = 1_000_000_000.0

// PriceToFloat64 converts a fixed-point scaled price to a float64.
func PriceToFloat64(fixed int64) float64 {
	return float64(fixed) / PriceScale
}

// TsEventTime returns the trade-time of the message as a time.Time.
func (m *CbboMsg) TsEventTime() time.Time {
	return nanosToTime(m.TsEvent)
}

// TsRecvTime returns the arrival time of the message as a time.Time.
func (m *CbboMsg) TsRecvTime() time.Time {
	return nanosToTime(m.TsRecv)
}

func nanosToTime(ns uint64) time.Time {
	secs := int64(ns / 1e9)
	nanos := int64(ns) - secs*1_000_000_000
	return time.Unix(secs, nanos).UTC()
}

// MappingInterval is a resolved symbol valid over [StartDate, EndDate).
type MappingInterval struct {
	StartDate string
	EndDate   string
	Symbol    string
}

// SymbologyResolution maps an OSI identifier to the mapping intervals
// resolved for it. A well-formed one-day resolution window carries
// exactly one interval per OSI identifier.
type SymbologyResolution struct {
	Mappings map[string][]MappingInterval
	Partial  []string
	NotFound []string
}

var (
	// ErrAuthentication marks a fatal, non-retryable provider failure.
	ErrAuthentication = errors.New("optquote: authentication failure")
	// ErrDecoderBufferOverflow marks a decoder buffer-overflow response,
	// classified no-retry at the per-call layer (spec.md §4.3/§4.6).
	ErrDecoderBufferOverflow = errors.New("optquote: response decoder buffer overflow")
)
