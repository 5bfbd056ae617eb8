// Copyright (c) 2025 Neomantra Corp

// Package optchain assembles a single underlier/valuation-date/expiry-date
// option chain from a collapsed put/call record map and an instrument
// table, fills in any instrument no record was found for with an empty
// placeholder, and computes chain-level quantities (chain time, expiry
// time, discount factor, put-call-parity rate and its quality score).
package optchain

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/algoratio/bento-optionchain/internal/optmarket"
	"github.com/algoratio/bento-optionchain/internal/optsnapshot"
	"github.com/algoratio/bento-optionchain/internal/optsymbology"
)

// OptionChain is a complete put/call record map for one underlier,
// valuation date and expiry date, plus a record of which instruments the
// symbology model knew about but no usable CBBO record was found for.
type OptionChain struct {
	Underlier                string
	ValuationDate            string
	ExpiryDate               string
	Puts                     optsnapshot.RecordMap
	Calls                    optsnapshot.RecordMap
	MissingInstrumentIDToOsi map[string]string
}

// IsValid reports whether the chain has at least one put and one call,
// and more records than missing instruments on each side, matching
// OptionChain::isValid.
func (c OptionChain) IsValid() bool {
	return len(c.Puts) > 0 && len(c.Calls) > 0 &&
		len(c.Puts) > len(c.MissingInstrumentIDToOsi) &&
		len(c.Calls) > len(c.MissingInstrumentIDToOsi)
}

// Build assembles an OptionChain from a collapsed PutCallRecordMap and
// model's instrument table for underlier/valuationDate/expiryDate,
// filling every instrument the model knows about but records has no
// entry for with an empty Record. It matches OptionChain::build.
func Build(records optsnapshot.PutCallRecordMap, model *optsymbology.Model, underlier, valuationDate, expiryDate string, logger *slog.Logger) (OptionChain, error) {
	chain := model.GetStrikeKeyPutCallMap(underlier, valuationDate, expiryDate)
	if chain == nil {
		return OptionChain{}, fmt.Errorf("optchain: no instrument table for %s/%s/%s", underlier, valuationDate, expiryDate)
	}

	putStrikeToInstrument := optsymbology.MakeStrikeKeyToInstrumentIDMap(chain.Puts)
	callStrikeToInstrument := optsymbology.MakeStrikeKeyToInstrumentIDMap(chain.Calls)
	idToOsiMap := optsymbology.MakeInstrumentIDToOsiMap(*chain)

	clearFilled := func(strikeToInstrument map[string]string, recordMap optsnapshot.RecordMap) {
		for strikeKey := range recordMap {
			if instrumentID, ok := strikeToInstrument[strikeKey]; ok {
				delete(idToOsiMap, instrumentID)
			}
		}
	}
	clearFilled(putStrikeToInstrument, records.Puts)
	clearFilled(callStrikeToInstrument, records.Calls)

	for instrumentID, osiID := range idToOsiMap {
		osi, err := optsymbology.ParseOsi(osiID)
		if err != nil {
			return OptionChain{}, fmt.Errorf("optchain: building chain for %s/%s/%s: %w", underlier, valuationDate, expiryDate, err)
		}
		target := records.Calls
		if osi.IsPut() {
			target = records.Puts
		}
		if _, exists := target[osi.StrikeKey()]; exists {
			if logger != nil {
				logger.Error("optchain: not blanking existing data in Build", "strike_key", osi.StrikeKey(), "osi", osiID, "instrument_id", instrumentID)
			}
			continue
		}
		target[osi.StrikeKey()] = optsnapshot.EmptyRecord()
	}

	return OptionChain{
		Underlier:                underlier,
		ValuationDate:            valuationDate,
		ExpiryDate:               expiryDate,
		Puts:                     records.Puts,
		Calls:                    records.Calls,
		MissingInstrumentIDToOsi: idToOsiMap,
	}, nil
}

// ChainTime is the latest arrival time across every record in the chain,
// matching OptionChain::getChainTime.
func (c OptionChain) ChainTime() time.Time {
	var latest time.Time
	update := func(rm optsnapshot.RecordMap) {
		for _, r := range rm {
			if r.RecvTime.After(latest) {
				latest = r.RecvTime
			}
		}
	}
	update(c.Calls)
	update(c.Puts)
	return latest
}

// ExpiryTime returns the chain's expiry date at exchangeClose's close
// time and timezone, converted to UTC, matching
// OptionChain::getExpiryTime.
func (c OptionChain) ExpiryTime(exchangeClose optmarket.ExchangeClose) (time.Time, error) {
	date, err := time.Parse("2006-01-02", c.ExpiryDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("optchain: parsing expiry date %q: %w", c.ExpiryDate, err)
	}
	loc := exchangeClose.Location()
	local := time.Date(date.Year(), date.Month(), date.Day(), exchangeClose.Hour, exchangeClose.Minute, 0, 0, loc)
	return local.UTC(), nil
}
