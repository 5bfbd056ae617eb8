// Copyright (c) 2025 Neomantra Corp

package optchain

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/algoratio/bento-optionchain/internal/optmarket"
	"github.com/algoratio/bento-optionchain/internal/optsnapshot"
	"github.com/algoratio/bento-optionchain/internal/optsymbology"
)

// Point is an (X, Y) data point for a least-squares line fit: a strike
// price paired with a computed put-call-parity rate.
type Point struct {
	X float64
	Y float64
}

const secondsInYear = 365.25 * 24 * 60 * 60

// DiscountFactor computes e^(-continuousRate * yearFraction) between the
// chain's latest data time and its expiry time, matching
// OptionChain::Util::getDiscountFactor.
func DiscountFactor(chain OptionChain, continuousRate float64, exchangeClose optmarket.ExchangeClose) (float64, error) {
	chainTime := chain.ChainTime()
	expiryTime, err := chain.ExpiryTime(exchangeClose)
	if err != nil {
		return 0, err
	}
	if expiryTime.Before(chainTime) {
		return 0, fmt.Errorf("optchain: expiry time must be after chain time for %s/%s/%s", chain.Underlier, chain.ValuationDate, chain.ExpiryDate)
	}
	yearFraction := expiryTime.Sub(chainTime).Seconds() / secondsInYear
	return math.Exp(-continuousRate * yearFraction), nil
}

// onAllPutCallRecords runs callback on every strike key present on both
// sides of the chain, matching OptionChain::Util::onAllPutCallRecords.
// When onlyValid is set, pairs are skipped unless both records are fully
// valid, or (when relaxedBidAskValid is also set) both have a complete
// bid/ask.
func onAllPutCallRecords(chain OptionChain, callback func(strikeKey string, put, call optsnapshot.Record) float64, onlyValid, relaxedBidAskValid bool) map[string]float64 {
	result := make(map[string]float64)
	for strikeKey, call := range chain.Calls {
		put, ok := chain.Puts[strikeKey]
		if !ok {
			continue
		}
		if onlyValid {
			if relaxedBidAskValid {
				if !(put.BidAskValid() && call.BidAskValid()) {
					continue
				}
			} else if !(put.IsValid() && call.IsValid()) {
				continue
			}
		}
		result[strikeKey] = callback(strikeKey, put, call)
	}
	return result
}

// putCallParityRate implements put-call parity: P + S = C + K*e^(-rT), so
// S = C - P + K*discountFactor, matching
// OptionChain::Util::PutCallParityRate.
func putCallParityRate(discountFactor float64, strikeKey string, put, call optsnapshot.Record) (float64, error) {
	strike, err := optsymbology.FromStrikeKey(strikeKey)
	if err != nil {
		return 0, err
	}
	return call.MidPrice() - put.MidPrice() + strike*discountFactor, nil
}

// ErrNoValidParityRates is returned when no strike in the chain yields a
// usable put-call-parity rate under the requested validity mode.
var ErrNoValidParityRates = errors.New("optchain: no valid parity rates found")

func parityRatesByStrike(chain OptionChain, discountFactor float64, relaxed bool) map[string]float64 {
	return onAllPutCallRecords(chain, func(strikeKey string, put, call optsnapshot.Record) float64 {
		rate, _ := putCallParityRate(discountFactor, strikeKey, put, call)
		return rate
	}, true, relaxed)
}

func sortedRateKeys(rates map[string]float64) []string {
	keys := make([]string, 0, len(rates))
	for k := range rates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// averageAround4 averages rates whose strike key falls within two
// positions on either side of avg's own strike key among the sorted
// strike keys present in rates, matching getParityRate's narrowing from
// the overall average down to its four nearest-strike neighbors.
func averageAround4(rates map[string]float64) (float64, error) {
	if len(rates) == 0 {
		return 0, ErrNoValidParityRates
	}
	sum := 0.0
	for _, v := range rates {
		sum += v
	}
	avg := sum / float64(len(rates))

	keys := sortedRateKeys(rates)
	avgKey := optsymbology.ToStrikeKey(avg)
	idx := sort.SearchStrings(keys, avgKey)
	lower, upper := idx, idx
	for i := 0; i < 2 && lower > 0; i++ {
		lower--
	}
	for i := 0; i < 2 && upper < len(keys); i++ {
		upper++
	}
	if lower >= upper {
		return 0, ErrNoValidParityRates
	}
	sum2, count := 0.0, 0
	for i := lower; i < upper; i++ {
		sum2 += rates[keys[i]]
		count++
	}
	if count == 0 {
		return 0, ErrNoValidParityRates
	}
	return sum2 / float64(count), nil
}

// ParityRate returns the put-call-parity-consistent rate for chain,
// narrowed to the strikes nearest its own average. It first tries
// strictly-valid records; if that yields nothing, it retries with
// relaxed (bid/ask-only) validity, matching OptionChain::getParityRate.
func ParityRate(chain OptionChain, env optmarket.Environment, logger *slog.Logger) (float64, error) {
	exchangeClose := env.ExchangeClose()
	chainTime := chain.ChainTime()
	expiryTime, err := chain.ExpiryTime(exchangeClose)
	if err != nil {
		return 0, err
	}
	rate := env.RiskFreeRate(chainTime, expiryTime)
	discountFactor, err := DiscountFactor(chain, rate, exchangeClose)
	if err != nil {
		return 0, err
	}

	strict, err := averageAround4(parityRatesByStrike(chain, discountFactor, false))
	if err == nil {
		return strict, nil
	}
	if logger != nil {
		logger.Warn("optchain: failed to compute parity rate with strict validity, retrying relaxed",
			"underlier", chain.Underlier, "valuation_date", chain.ValuationDate, "expiry_date", chain.ExpiryDate, "error", err)
	}
	relaxed, err := averageAround4(parityRatesByStrike(chain, discountFactor, true))
	if err != nil {
		return 0, fmt.Errorf("optchain: failed to compute parity rate for %s/%s/%s: %w",
			chain.Underlier, chain.ValuationDate, chain.ExpiryDate, err)
	}
	return relaxed, nil
}

// ParityRateQualityScore fits a least-squares line to (strike, parity
// rate) pairs and returns the variance of the data around that line --
// a lower score means the chain's strikes imply a more internally
// consistent parity rate. Matches OptionChain::getParityRateQualityScore.
func ParityRateQualityScore(chain OptionChain, env optmarket.Environment) (float64, error) {
	exchangeClose := env.ExchangeClose()
	chainTime := chain.ChainTime()
	expiryTime, err := chain.ExpiryTime(exchangeClose)
	if err != nil {
		return 0, err
	}
	rate := env.RiskFreeRate(chainTime, expiryTime)
	discountFactor, err := DiscountFactor(chain, rate, exchangeClose)
	if err != nil {
		return 0, err
	}

	rates := parityRatesByStrike(chain, discountFactor, false)
	points := make([]Point, 0, len(rates))
	for strikeKey, v := range rates {
		strike, err := optsymbology.FromStrikeKey(strikeKey)
		if err != nil {
			continue
		}
		points = append(points, Point{X: strike, Y: v})
	}
	slope, intercept, err := FitLeastSquaresLine(points)
	if err != nil {
		return 0, err
	}
	return ComputeVarianceAlongFittedLine(points, slope, intercept)
}

// FitLeastSquaresLine estimates the slope and intercept of a line fit to
// dataSeries by ordinary least squares, matching
// OptionChain::Util::fitLeastSquaresLine.
func FitLeastSquaresLine(dataSeries []Point) (slope, intercept float64, err error) {
	if len(dataSeries) < 2 {
		return 0, 0, errors.New("optchain: not enough data points to fit a line")
	}
	var sumX, sumY, sumXY, sumX2 float64
	n := float64(len(dataSeries))
	for _, p := range dataSeries {
		sumX += p.X
		sumY += p.Y
		sumXY += p.X * p.Y
		sumX2 += p.X * p.X
	}
	denominator := n*sumX2 - sumX*sumX
	if math.Abs(denominator) < 1e-10 {
		return 0, 0, errors.New("optchain: denominator is too small, cannot fit a line")
	}
	slope = (n*sumXY - sumX*sumY) / denominator
	intercept = (sumY - slope*sumX) / n
	return slope, intercept, nil
}

// ComputeVarianceAlongFittedLine returns the mean squared residual of
// dataSeries against the line y = slope*x + intercept, matching
// OptionChain::Util::computeVarianceAlongFittedLine.
func ComputeVarianceAlongFittedLine(dataSeries []Point, slope, intercept float64) (float64, error) {
	if len(dataSeries) == 0 {
		return 0, errors.New("optchain: no data points to compute variance")
	}
	var sumSquared float64
	for _, p := range dataSeries {
		predicted := slope*p.X + intercept
		diff := p.Y - predicted
		sumSquared += diff * diff
	}
	return sumSquared / float64(len(dataSeries)), nil
}
