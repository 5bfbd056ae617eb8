// Copyright (c) 2025 Neomantra Corp

// Package optsnapshot turns raw CBBO messages into strike-keyed put/call
// record maps: mapping instrument ids to OSI strike keys, slotting
// records into a time-bucketed timeline, collapsing that timeline down
// to the latest-best record per strike, and flagging instruments with no
// usable data at all.
package optsnapshot

import (
	"math"
	"time"

	"github.com/algoratio/bento-optionchain/internal/optquote"
)

// PriceWeight is a price paired with the size/weight backing it. A zero
// Weight marks the price as unset; Price may then be NaN.
type PriceWeight struct {
	Price  float64
	Weight uint64
}

func newPriceWeight(price float64, weight uint64) PriceWeight {
	return PriceWeight{Price: price, Weight: weight}
}

func emptyPriceWeight() PriceWeight {
	return PriceWeight{Price: math.NaN(), Weight: 0}
}

// Equal reports whether pw and other represent the same observation,
// matching OptionChain::PriceWeight::operator==: two zero-weight values
// are equal regardless of Price (which may be NaN), since an unset
// price carries no meaning; otherwise both Weight and Price must match.
func (pw PriceWeight) Equal(other PriceWeight) bool {
	if pw.Weight == 0 && other.Weight == 0 {
		return true
	}
	return pw.Weight == other.Weight && pw.Price == other.Price
}

// PriceScaling is the fixed-point denominator DBN-derived prices use
// (1 unit = 1e-9), matching original_source's Record::priceScaling.
const PriceScaling = 1_000_000_000.0

// Record is a strike's top-of-book snapshot: last trade price/time and
// bid/ask price/size, plus a free-form comment slot gap-filling uses to
// explain how a value was derived.
type Record struct {
	Price     PriceWeight
	PriceTime time.Time
	AskPrice  PriceWeight
	BidPrice  PriceWeight
	RecvTime  time.Time
	Comment   string
}

// EmptyRecord returns a Record with every price unset, matching
// OptionChain::Record's default constructor.
func EmptyRecord() Record {
	return Record{
		Price:    emptyPriceWeight(),
		AskPrice: emptyPriceWeight(),
		BidPrice: emptyPriceWeight(),
	}
}

// RecordFromCbbo builds a Record from a raw CbboMsg, matching
// OptionChain::Record's databento::CbboMsg constructor.
func RecordFromCbbo(msg optquote.CbboMsg) Record {
	return Record{
		Price:     newPriceWeight(optquote.PriceToFloat64(msg.Price), uint64(msg.Size)),
		PriceTime: msg.TsEventTime(),
		AskPrice:  newPriceWeight(optquote.PriceToFloat64(msg.Level.AskPx), uint64(msg.Level.AskSz)),
		BidPrice:  newPriceWeight(optquote.PriceToFloat64(msg.Level.BidPx), uint64(msg.Level.BidSz)),
		RecvTime:  msg.TsRecvTime(),
	}
}

// BidPriceOrNaN returns the bid price, or NaN if unset.
func (r Record) BidPriceOrNaN() float64 {
	if r.BidPrice.Weight == 0 {
		return math.NaN()
	}
	return r.BidPrice.Price
}

// AskPriceOrNaN returns the ask price, or NaN if unset.
func (r Record) AskPriceOrNaN() float64 {
	if r.AskPrice.Weight == 0 {
		return math.NaN()
	}
	return r.AskPrice.Price
}

// MidPrice returns the average of bid and ask, which is NaN if either
// side is unset.
func (r Record) MidPrice() float64 {
	return (r.AskPriceOrNaN() + r.BidPriceOrNaN()) / 2.0
}

// TradePriceOrNaN returns the last trade price, or NaN if unset.
func (r Record) TradePriceOrNaN() float64 {
	if r.Price.Weight == 0 {
		return math.NaN()
	}
	return r.Price.Price
}

// Spread returns ask minus bid.
func (r Record) Spread() float64 {
	return r.AskPriceOrNaN() - r.BidPriceOrNaN()
}

// IsValid reports whether trade price, ask and bid are all set.
func (r Record) IsValid() bool {
	return r.Price.Weight > 0 && r.AskPrice.Weight > 0 && r.BidPrice.Weight > 0
}

// BidAskValid reports whether both ask and bid are set.
func (r Record) BidAskValid() bool {
	return r.AskPrice.Weight > 0 && r.BidPrice.Weight > 0
}

// AnyBidAskValid reports whether either ask or bid is set.
func (r Record) AnyBidAskValid() bool {
	return r.AskPrice.Weight > 0 || r.BidPrice.Weight > 0
}

// Empty reports whether no price of any kind has been set.
func (r Record) Empty() bool {
	return r.Price.Weight == 0 && r.AskPrice.Weight == 0 && r.BidPrice.Weight == 0
}

// EffectiveRecvTime returns RecvTime if any bid/ask is set, else the
// zero time, matching Record::getRecvTime.
func (r Record) EffectiveRecvTime() time.Time {
	if r.AnyBidAskValid() {
		return r.RecvTime
	}
	return time.Time{}
}

// RecordMap maps a strike key to its Record.
type RecordMap map[string]Record

// PutCallRecordMap combines the put and call sides of a chain.
type PutCallRecordMap struct {
	Puts  RecordMap
	Calls RecordMap
}

func NewPutCallRecordMap() PutCallRecordMap {
	return PutCallRecordMap{Puts: make(RecordMap), Calls: make(RecordMap)}
}
