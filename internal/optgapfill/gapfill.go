// Copyright (c) 2025 Neomantra Corp

// Package optgapfill completes a raw option chain's half-sided and
// missing quotes: fitting a spread line to fill whichever side of a
// bid/ask pair is absent, then exploiting put-call parity to fit and
// interpolate interior strike gaps, and log-linear extrapolation for
// deep out-of-the-money tails with no valid parity neighbor on one side.
package optgapfill

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/algoratio/bento-optionchain/internal/optchain"
	"github.com/algoratio/bento-optionchain/internal/optmarket"
	"github.com/algoratio/bento-optionchain/internal/optsnapshot"
	"github.com/algoratio/bento-optionchain/internal/optsymbology"
)

// Comment tags appended to a Record's Comment field as gap-fill steps
// complete it, matching OptionRecordGapFiller's static comment strings.
const (
	CommentSpreadFit      = "spread-fit"
	CommentPCPFit         = "pcp-fit"
	CommentLinInterpol    = "lin-interpol"
	CommentLogExtrapolate = "log-extrapolate"
)

// logLowerLimit floors prices before taking a log, matching Algos'
// m_logLowerLimit.
const logLowerLimit = 1e-9

// minStartPoints/minEndPoints are the target number of points a tail
// extrapolation tries to collect; a fit is only emitted once at least a
// sixth of that target was actually gathered, matching
// fitPCPRateForGaps' startFitter/endFitter.
const (
	minStartPoints = 24
	minEndPoints   = 24
)

// Result carries the gap-filled chain plus the orphaned strikes pruned
// from it (present on only one side, matching
// OptionRecordGapFiller::getOrphanedPuts/getOrphanedCalls).
type Result struct {
	Chain         optchain.OptionChain
	OrphanedPuts  []string
	OrphanedCalls []string
}

func addComment(comment, tag string) string {
	if comment == "" {
		return tag
	}
	return comment + ":" + tag
}

func cloneRecordMap(src optsnapshot.RecordMap) optsnapshot.RecordMap {
	dst := make(optsnapshot.RecordMap, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// FillGaps runs the complete gap-filling pipeline on chain, matching
// OptionRecordGapFiller::fillGaps: spread-fit, orphan pruning, then --
// if the ATM price and parity rate can be estimated -- interior,
// start-tail and end-tail fits. If ATM/parity estimation fails, the
// chain is returned with only the spread-fit and orphan-pruning steps
// applied and a warning is logged; this never raises.
func FillGaps(chain optchain.OptionChain, env optmarket.Environment, logger *slog.Logger) Result {
	filled := chain
	filled.Puts = cloneRecordMap(chain.Puts)
	filled.Calls = cloneRecordMap(chain.Calls)

	spreadFit(filled.Calls)
	spreadFit(filled.Puts)

	exchangeClose := env.ExchangeClose()
	expiryTime, err := filled.ExpiryTime(exchangeClose)
	if err != nil {
		if logger != nil {
			logger.Warn("optgapfill: failed to compute expiry time, skipping advanced fill", "error", err)
		}
		return Result{Chain: filled}
	}
	riskFreeRate := env.RiskFreeRate(filled.ChainTime(), expiryTime)
	discountFactor, err := optchain.DiscountFactor(filled, riskFreeRate, exchangeClose)
	if err != nil {
		if logger != nil {
			logger.Warn("optgapfill: failed to compute discount factor, skipping advanced fill", "error", err)
		}
		return Result{Chain: filled}
	}

	pcpMap := matchPutCall(filled, discountFactor)
	orphanedCalls := removeNotInKeys(filled.Calls, pcpMap)
	orphanedPuts := removeNotInKeys(filled.Puts, pcpMap)

	parityRate, err := optchain.ParityRate(filled, env, logger)
	if err != nil {
		if logger != nil {
			logger.Warn("optgapfill: failed to perform advanced fill operations", "error", err)
		}
		return Result{Chain: filled, OrphanedPuts: orphanedPuts, OrphanedCalls: orphanedCalls}
	}
	putAtmPrice, err := estimateAtmPrice(filled.Puts, parityRate)
	if err != nil {
		if logger != nil {
			logger.Warn("optgapfill: failed to perform advanced fill operations", "error", err)
		}
		return Result{Chain: filled, OrphanedPuts: orphanedPuts, OrphanedCalls: orphanedCalls}
	}
	callAtmPrice, err := estimateAtmPrice(filled.Calls, parityRate)
	if err != nil {
		if logger != nil {
			logger.Warn("optgapfill: failed to perform advanced fill operations", "error", err)
		}
		return Result{Chain: filled, OrphanedPuts: orphanedPuts, OrphanedCalls: orphanedCalls}
	}

	fitMap := fitPCPRateForGaps(pcpMap)
	fillFitValues(discountFactor, fitMap, filled.Puts, filled.Calls, (putAtmPrice+callAtmPrice)/2)

	return Result{Chain: filled, OrphanedPuts: orphanedPuts, OrphanedCalls: orphanedCalls}
}

// pcpResult is a strike's put-call-parity computation, matching Algos::PCPResult.
type pcpResult struct {
	rate      float64
	putPrice  float64
	callPrice float64
	valid     bool
}

// matchPutCall computes a put-call-parity rate for every strike key
// present on both sides, valid or not, matching Algos::matchPutCall
// (which runs onAllPutCallRecords with onlyValid=false so invalid
// strikes still get a PCPMap entry, just an invalid one).
func matchPutCall(chain optchain.OptionChain, discountFactor float64) map[string]pcpResult {
	result := make(map[string]pcpResult)
	for strikeKey, call := range chain.Calls {
		put, ok := chain.Puts[strikeKey]
		if !ok {
			continue
		}
		if put.BidAskValid() && call.BidAskValid() {
			strike, err := optsymbology.FromStrikeKey(strikeKey)
			if err != nil {
				continue
			}
			rate := call.MidPrice() - put.MidPrice() + strike*discountFactor
			result[strikeKey] = pcpResult{rate: rate, putPrice: put.MidPrice(), callPrice: call.MidPrice(), valid: true}
		} else {
			result[strikeKey] = pcpResult{}
		}
	}
	return result
}

// removeNotInKeys deletes every entry in recordMap whose strike key has
// no entry in pcpMap, returning the removed keys, matching
// Algos::removeElementsNotInKeys.
func removeNotInKeys(recordMap optsnapshot.RecordMap, pcpMap map[string]pcpResult) []string {
	var erased []string
	for key := range recordMap {
		if _, ok := pcpMap[key]; !ok {
			erased = append(erased, key)
			delete(recordMap, key)
		}
	}
	sort.Strings(erased)
	return erased
}

// estimateAtmPrice finds the two bid/ask-valid records straddling
// pcpRate's strike key and, if they are within four strikes of each
// other, returns the mean of their mids, matching Algos::estimateAtmPrice.
func estimateAtmPrice(recordMap optsnapshot.RecordMap, pcpRate float64) (float64, error) {
	keys := sortedKeys(recordMap)
	atmKey := optsymbology.ToStrikeKey(pcpRate)
	lowerIdx := sort.SearchStrings(keys, atmKey)

	prevIdx := lowerIdx - 1
	for prevIdx > 0 && !recordMap[keys[prevIdx]].BidAskValid() {
		prevIdx--
	}
	upperIdx := lowerIdx
	for upperIdx < len(keys) && !recordMap[keys[upperIdx]].BidAskValid() {
		upperIdx++
	}
	if prevIdx >= 0 && prevIdx < len(keys) && upperIdx < len(keys) &&
		recordMap[keys[prevIdx]].BidAskValid() {
		if upperIdx-prevIdx < 4 {
			return (recordMap[keys[prevIdx]].MidPrice() + recordMap[keys[upperIdx]].MidPrice()) / 2, nil
		}
	}
	return 0, fmt.Errorf("optgapfill: failed to estimate ATM price for PCP rate %v", pcpRate)
}

func sortedKeys(m optsnapshot.RecordMap) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fitType distinguishes interpolated interior gaps from extrapolated
// tails, matching Algos::FitType.
type fitType int

const (
	fitGap fitType = iota
	fitStart
	fitEnd
)

// lsFit is a least-squares line fit scoped to the strikes it covers,
// matching Algos::LSFit.
type lsFit struct {
	slope, intercept float64
	kind             fitType
	lowerKey         string
	upperKey         string
}

// fitPCPRateForGaps walks the sorted PCP map, grouping contiguous
// invalid strikes into gaps and fitting each according to its position
// (interior, start tail or end tail), matching
// Algos::fitPCPRateForGaps.
func fitPCPRateForGaps(pcpMap map[string]pcpResult) map[string]lsFit {
	keys := make([]string, 0, len(pcpMap))
	for k := range pcpMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fits := make(map[string]lsFit)
	putFit := func(points []optchain.Point, kind fitType, lowerKey, upperKey string, gap []string) {
		slope, intercept, err := optchain.FitLeastSquaresLine(points)
		if err != nil {
			return
		}
		fit := lsFit{slope: slope, intercept: intercept, kind: kind, lowerKey: lowerKey, upperKey: upperKey}
		for _, key := range gap {
			fits[key] = fit
		}
	}

	gapFitter := func(previous, next int) {
		var points []optchain.Point
		for p := previous - 1; p >= 0; p-- {
			if pcpMap[keys[p]].valid {
				strike, err := optsymbology.FromStrikeKey(keys[p])
				if err == nil {
					points = append(points, optchain.Point{X: strike, Y: pcpMap[keys[p]].rate})
				}
				break
			}
		}
		prevStrike, _ := optsymbology.FromStrikeKey(keys[previous])
		points = append(points, optchain.Point{X: prevStrike, Y: pcpMap[keys[previous]].rate})
		nextStrike, _ := optsymbology.FromStrikeKey(keys[next])
		points = append(points, optchain.Point{X: nextStrike, Y: pcpMap[keys[next]].rate})
		upperKey := keys[next]
		for n := next + 1; n < len(keys); n++ {
			if pcpMap[keys[n]].valid {
				strike, err := optsymbology.FromStrikeKey(keys[n])
				if err == nil {
					points = append(points, optchain.Point{X: strike, Y: pcpMap[keys[n]].rate})
				}
				break
			}
		}
		var gap []string
		for i := previous + 1; i < next; i++ {
			gap = append(gap, keys[i])
		}
		putFit(points, fitGap, keys[previous], upperKey, gap)
	}

	startFitter := func(next int, gap []string) {
		upperKey := keys[next]
		var points []optchain.Point
		for i := next; i < len(keys) && len(points) < minStartPoints; i++ {
			if pcpMap[keys[i]].valid {
				strike, err := optsymbology.FromStrikeKey(keys[i])
				if err != nil {
					continue
				}
				points = append(points, optchain.Point{X: strike, Y: math.Log(math.Max(logLowerLimit, pcpMap[keys[i]].putPrice))})
			}
		}
		if len(points) >= minStartPoints/6 {
			putFit(points, fitStart, "", upperKey, gap)
		}
	}

	endFitter := func(last int, gap []string) {
		lowerKey := keys[last]
		var points []optchain.Point
		for i := last; i >= 0 && len(points) < minEndPoints; i-- {
			if pcpMap[keys[i]].valid {
				strike, err := optsymbology.FromStrikeKey(keys[i])
				if err != nil {
					continue
				}
				points = append([]optchain.Point{{X: strike, Y: math.Log(math.Max(logLowerLimit, pcpMap[keys[i]].callPrice))}}, points...)
			}
		}
		if len(points) >= minEndPoints/6 {
			putFit(points, fitEnd, lowerKey, "", gap)
		}
	}

	var currentGap []string
	previousValid := -1
	for i, key := range keys {
		if !pcpMap[key].valid {
			currentGap = append(currentGap, key)
			continue
		}
		if len(currentGap) > 0 {
			if previousValid >= 0 {
				gapFitter(previousValid, i)
			} else {
				startFitter(i, currentGap)
			}
			currentGap = nil
		}
		previousValid = i
	}
	if len(currentGap) > 0 && previousValid >= 0 {
		endFitter(previousValid, currentGap)
	}
	return fits
}

func recvTimeOf(recordMap optsnapshot.RecordMap, key string) (time.Time, error) {
	rec, ok := recordMap[key]
	if !ok {
		return time.Time{}, fmt.Errorf("optgapfill: no record for key %s", key)
	}
	return rec.RecvTime, nil
}

func spreadOf(recordMap optsnapshot.RecordMap, key string) (float64, error) {
	rec, ok := recordMap[key]
	if !ok {
		return 0, fmt.Errorf("optgapfill: no record for key %s", key)
	}
	if !rec.BidAskValid() {
		return 0, fmt.Errorf("optgapfill: no valid spread for key %s", key)
	}
	return rec.Spread(), nil
}

func averageSpread(recordMap optsnapshot.RecordMap, key1, key2 string) (float64, error) {
	s1, err := spreadOf(recordMap, key1)
	if err != nil {
		return 0, err
	}
	s2, err := spreadOf(recordMap, key2)
	if err != nil {
		return 0, err
	}
	return (s1 + s2) / 2, nil
}

// interpolate linearly interpolates targetStrike's mid price between the
// bid/ask-valid records at lowerKey and upperKey, matching
// Algos::interpolate.
func interpolate(recordMap optsnapshot.RecordMap, targetStrike float64, lowerKey, upperKey string) (float64, error) {
	lower, lowerOK := recordMap[lowerKey]
	upper, upperOK := recordMap[upperKey]
	if !lowerOK || !upperOK || !lower.BidAskValid() || !upper.BidAskValid() {
		return 0, fmt.Errorf("optgapfill: unable to perform linear interpolation on strike %v and keys %s,%s",
			targetStrike, lowerKey, upperKey)
	}
	lowerStrike, err := optsymbology.FromStrikeKey(lowerKey)
	if err != nil {
		return 0, err
	}
	upperStrike, err := optsymbology.FromStrikeKey(upperKey)
	if err != nil {
		return 0, err
	}
	return lower.MidPrice() + (upper.MidPrice()-lower.MidPrice())*(targetStrike-lowerStrike)/(upperStrike-lowerStrike), nil
}

// fillFitValues applies every gap/start/end fit in fitMap to putMap and
// callMap, matching Algos::fillFitValue.
func fillFitValues(discountFactor float64, fitMap map[string]lsFit, putMap, callMap optsnapshot.RecordMap, atmPrice float64) {
	for strikeKey, fit := range fitMap {
		put, putOK := putMap[strikeKey]
		call, callOK := callMap[strikeKey]
		if !putOK || !callOK {
			continue
		}
		strike, err := optsymbology.FromStrikeKey(strikeKey)
		if err != nil {
			continue
		}
		switch fit.kind {
		case fitGap:
			fillGapFit(discountFactor, fit, strikeKey, strike, put, call, putMap, callMap, atmPrice)
		case fitStart, fitEnd:
			fillTailFit(fit, strikeKey, strike, put, call, putMap, callMap)
		}
	}
}

func fillGapFit(discountFactor float64, fit lsFit, strikeKey string, strike float64, put, call optsnapshot.Record, putMap, callMap optsnapshot.RecordMap, atmPrice float64) {
	pcpRate := fit.slope*strike + fit.intercept

	fillSide := func(targetMap optsnapshot.RecordMap, target optsnapshot.Record, computedPrice float64, spread float64, recvTime time.Time) {
		comment := CommentPCPFit
		atmThreshold := atmPrice / 4
		if computedPrice < atmThreshold {
			if lin, err := interpolate(targetMap, strike, fit.lowerKey, fit.upperKey); err == nil {
				computedPrice = lin
				comment = CommentLinInterpol
			}
		}
		target.AskPrice = optsnapshot.PriceWeight{Price: computedPrice + spread/2, Weight: 1}
		target.BidPrice = optsnapshot.PriceWeight{Price: math.Max(0, computedPrice-spread/2), Weight: 1}
		target.Comment = addComment(target.Comment, comment)
		target.RecvTime = recvTime
		targetMap[strikeKey] = target
	}

	if !put.BidAskValid() && call.BidAskValid() {
		computedPrice := call.MidPrice() + strike*discountFactor - pcpRate
		spread, err := averageSpread(putMap, fit.lowerKey, fit.upperKey)
		if err != nil {
			return
		}
		recvTime, err := recvTimeOf(putMap, fit.upperKey)
		if err != nil {
			return
		}
		fillSide(putMap, put, computedPrice, spread, recvTime)
	} else if !call.BidAskValid() && put.BidAskValid() {
		computedPrice := put.MidPrice() + pcpRate - strike*discountFactor
		spread, err := averageSpread(callMap, fit.lowerKey, fit.upperKey)
		if err != nil {
			return
		}
		recvTime, err := recvTimeOf(callMap, fit.lowerKey)
		if err != nil {
			return
		}
		fillSide(callMap, call, computedPrice, spread, recvTime)
	}
}

func fillTailFit(fit lsFit, strikeKey string, strike float64, put, call optsnapshot.Record, putMap, callMap optsnapshot.RecordMap) {
	targetMap := callMap
	target := call
	key := fit.lowerKey
	if fit.kind == fitStart {
		targetMap = putMap
		target = put
		key = fit.upperKey
	}
	spread, err := spreadOf(targetMap, key)
	if err != nil {
		return
	}
	recvTime, err := recvTimeOf(targetMap, key)
	if err != nil {
		return
	}
	logPrice := strike*fit.slope + fit.intercept
	price := math.Exp(logPrice)
	target.AskPrice = optsnapshot.PriceWeight{Price: price + spread/2, Weight: 1}
	target.BidPrice = optsnapshot.PriceWeight{Price: math.Max(0, price-spread/2), Weight: 1}
	target.Comment = addComment(target.Comment, CommentLogExtrapolate)
	target.RecvTime = recvTime
	targetMap[strikeKey] = target
}

// spreadFit fills whichever side of a half-sided bid/ask pair is
// missing by fitting a line to (strike, spread) over every
// bid/ask-valid record, matching Algos::spreadFit.
func spreadFit(recordMap optsnapshot.RecordMap) {
	var points []optchain.Point
	var fitKeys []string
	for key, rec := range recordMap {
		if rec.BidAskValid() {
			strike, err := optsymbology.FromStrikeKey(key)
			if err != nil {
				continue
			}
			points = append(points, optchain.Point{X: strike, Y: rec.Spread()})
		} else if rec.AnyBidAskValid() {
			fitKeys = append(fitKeys, key)
		}
	}
	if len(fitKeys) == 0 {
		return
	}
	slope, intercept, err := optchain.FitLeastSquaresLine(points)
	if err != nil {
		return
	}
	sort.Strings(fitKeys)
	for _, key := range fitKeys {
		strike, err := optsymbology.FromStrikeKey(key)
		if err != nil {
			continue
		}
		fittedSpread := math.Max(strike*slope+intercept, 0.01)
		rec := recordMap[key]
		if rec.AskPrice.Weight > 0 {
			rec.BidPrice = optsnapshot.PriceWeight{Price: math.Max(rec.AskPrice.Price-fittedSpread, 0), Weight: 1}
		} else {
			rec.AskPrice = optsnapshot.PriceWeight{Price: rec.BidPrice.Price + fittedSpread, Weight: 1}
		}
		rec.Comment = addComment(rec.Comment, CommentSpreadFit)
		recordMap[key] = rec
	}
}
