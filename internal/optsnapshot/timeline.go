// Copyright (c) 2025 Neomantra Corp

package optsnapshot

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/algoratio/bento-optionchain/internal/optquote"
	"github.com/algoratio/bento-optionchain/internal/optsymbology"
)

// InstrumentIDToCbboMap groups raw CBBO messages by the instrument id
// they were reported against.
type InstrumentIDToCbboMap map[string][]optquote.CbboMsg

// RecordTimeline maps a time slot (the start of its slotWindow bucket)
// to the put/call records observed within it.
type RecordTimeline map[time.Time]PutCallRecordMap

// MapIntoInstrumentLists buckets cbboMsgs by instrument id, discarding
// any message whose instrument id has no entry in instrumentIDToOsiMap.
// It matches OptionChain::mapCbboMsgsToInstruments /
// Algos::mapCbboMsgsToInstrumentId.
func MapIntoInstrumentLists(cbboMsgs []optquote.CbboMsg, instrumentIDToOsiMap map[string]string) InstrumentIDToCbboMap {
	cbboMap := make(InstrumentIDToCbboMap)
	for _, msg := range cbboMsgs {
		id := strconv.FormatUint(uint64(msg.InstrumentID), 10)
		if _, ok := instrumentIDToOsiMap[id]; !ok {
			continue
		}
		cbboMap[id] = append(cbboMap[id], msg)
	}
	return cbboMap
}

// slotTime truncates ts down to the start of its slotWindow-sized bucket
// since the Unix epoch, matching buildRecordTimeline's slotTime lambda.
func slotTime(ts time.Time, slotWindow time.Duration) time.Time {
	if slotWindow <= 0 {
		return ts
	}
	ns := ts.UnixNano()
	w := slotWindow.Nanoseconds()
	truncated := (ns / w) * w
	return time.Unix(0, truncated).UTC()
}

// shouldOverwrite decides whether candidate should replace prev at the
// same strike key and time slot: a candidate with a complete bid/ask wins
// if prev lacks a complete bid/ask or candidate is newer; failing that, a
// candidate with any bid/ask wins if prev has none or candidate is newer,
// matching buildRecordTimeline / mapLatestBestInTimelineToRecord's
// overwrite rule.
func shouldOverwrite(prev, candidate Record) bool {
	newer := candidate.RecvTime.After(prev.EffectiveRecvTime())
	if candidate.BidAskValid() && (!prev.BidAskValid() || newer) {
		return true
	}
	return candidate.AnyBidAskValid() && (!prev.AnyBidAskValid() || newer)
}

// BuildTimeline slots every message in cbboMap into a RecordTimeline,
// keyed by the OSI-derived strike key of its instrument, dropping any
// record with neither bid nor ask set. It matches
// OptionChain::buildRecordTimeline.
func BuildTimeline(cbboMap InstrumentIDToCbboMap, idToOsi map[string]string, slotWindow time.Duration, logger *slog.Logger) (RecordTimeline, error) {
	timeline := make(RecordTimeline)
	for instrumentID, msgs := range cbboMap {
		osiID, ok := idToOsi[instrumentID]
		if !ok {
			if logger != nil {
				logger.Error("optsnapshot: missing OSI mapping in BuildTimeline", "instrument_id", instrumentID)
			}
			continue
		}
		osi, err := optsymbology.ParseOsi(osiID)
		if err != nil {
			return nil, fmt.Errorf("optsnapshot: building timeline: %w", err)
		}
		for _, msg := range msgs {
			record := RecordFromCbbo(msg)
			if !record.AnyBidAskValid() {
				continue
			}
			slot := slotTime(record.RecvTime, slotWindow)
			putCall, ok := timeline[slot]
			if !ok {
				putCall = NewPutCallRecordMap()
			}
			target := putCall.Calls
			if osi.IsPut() {
				target = putCall.Puts
			}
			strikeKey := osi.StrikeKey()
			if prev, exists := target[strikeKey]; !exists || shouldOverwrite(prev, record) {
				target[strikeKey] = record
			}
			timeline[slot] = putCall
		}
	}
	return timeline, nil
}

// CollapseTimeline reduces a RecordTimeline back to a single
// PutCallRecordMap, folding slots oldest-first so that more complete
// data at later time points overwrites earlier, less complete data,
// matching OptionChain::mapLatestBestInTimelineToRecord.
func CollapseTimeline(timeline RecordTimeline) PutCallRecordMap {
	result := NewPutCallRecordMap()
	times := make([]time.Time, 0, len(timeline))
	for t := range timeline {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	merge := func(dst, src RecordMap) {
		for strikeKey, rec := range src {
			if prev, exists := dst[strikeKey]; !exists || shouldOverwrite(prev, rec) {
				dst[strikeKey] = rec
			}
		}
	}
	for _, t := range times {
		pc := timeline[t]
		merge(result.Puts, pc.Puts)
		merge(result.Calls, pc.Calls)
	}
	return result
}

// FindMissing lists, in ascending instrument-id order, every instrument
// in instrumentIDToOsiMap with no message in cbboMap carrying a
// complete bid/ask pair -- candidates for a secondary, coarser-cadence
// query, matching OptionChain::findInstrumentsMissingCbboMsgs.
func FindMissing(cbboMap InstrumentIDToCbboMap, instrumentIDToOsiMap map[string]string) []string {
	ids := make([]string, 0, len(instrumentIDToOsiMap))
	for id := range instrumentIDToOsiMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var missing []string
	for _, id := range ids {
		msgs, ok := cbboMap[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		found := false
		for _, msg := range msgs {
			if msg.Level.AskSz > 0 && msg.Level.BidSz > 0 {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, id)
		}
	}
	return missing
}
