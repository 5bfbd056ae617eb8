// Copyright (c) 2025 Neomantra Corp

package optchain_test

import (
	"math"
	"time"

	"github.com/algoratio/bento-optionchain/internal/optchain"
	"github.com/algoratio/bento-optionchain/internal/optmarket"
	"github.com/algoratio/bento-optionchain/internal/optsnapshot"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("FitLeastSquaresLine", func() {
	It("recovers the exact slope and intercept of a perfectly linear series", func() {
		points := []optchain.Point{{X: 0, Y: 1}, {X: 1, Y: 3}, {X: 2, Y: 5}, {X: 3, Y: 7}}
		slope, intercept, err := optchain.FitLeastSquaresLine(points)
		Expect(err).NotTo(HaveOccurred())
		Expect(slope).To(BeNumerically("~", 2.0, 1e-9))
		Expect(intercept).To(BeNumerically("~", 1.0, 1e-9))
	})

	It("errors with fewer than two points", func() {
		_, _, err := optchain.FitLeastSquaresLine([]optchain.Point{{X: 0, Y: 1}})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("ComputeVarianceAlongFittedLine", func() {
	It("returns zero variance for points exactly on the line", func() {
		points := []optchain.Point{{X: 0, Y: 1}, {X: 1, Y: 3}, {X: 2, Y: 5}}
		variance, err := optchain.ComputeVarianceAlongFittedLine(points, 2, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(variance).To(BeNumerically("~", 0.0, 1e-12))
	})

	It("returns positive variance for points off the line", func() {
		points := []optchain.Point{{X: 0, Y: 0}, {X: 1, Y: 5}}
		variance, err := optchain.ComputeVarianceAlongFittedLine(points, 0, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(variance).To(BeNumerically(">", 0))
	})
})

var _ = Describe("DiscountFactor", func() {
	It("discounts to 1.0 at a zero risk-free rate regardless of time to expiry", func() {
		t0 := time.Date(2024, 6, 6, 15, 0, 0, 0, time.UTC)
		chain := optchain.OptionChain{
			ExpiryDate: "2024-06-07",
			Calls:      optsnapshot.RecordMap{"a": {RecvTime: t0}},
			Puts:       optsnapshot.RecordMap{},
		}
		factor, err := optchain.DiscountFactor(chain, 0.0, optmarket.NasdaqClose)
		Expect(err).NotTo(HaveOccurred())
		Expect(factor).To(BeNumerically("~", 1.0, 1e-9))
	})

	It("errors when expiry time precedes chain time", func() {
		t0 := time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC)
		chain := optchain.OptionChain{
			ExpiryDate: "2024-06-07",
			Calls:      optsnapshot.RecordMap{"a": {RecvTime: t0}},
			Puts:       optsnapshot.RecordMap{},
		}
		_, err := optchain.DiscountFactor(chain, 0.05, optmarket.NasdaqClose)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("ParityRate and ParityRateQualityScore", func() {
	// Build a chain whose put/call mid prices are exactly parity-consistent
	// (S = C - P + K, discount factor ~1 at a zero risk-free rate) across
	// several strikes, so both the rate and the quality-score variance are
	// easy to predict.
	makeChain := func() optchain.OptionChain {
		t0 := time.Date(2024, 6, 6, 15, 0, 0, 0, time.UTC)
		const spot = 100.0
		strikes := []string{"00090000", "00095000", "00100000", "00105000", "00110000"}
		calls := optsnapshot.RecordMap{}
		puts := optsnapshot.RecordMap{}
		for _, key := range strikes {
			strike, _ := parseStrikeKeyDollars(key)
			callMid := math.Max(spot-strike, 0) + 1.0
			putMid := callMid - spot + strike
			calls[key] = optsnapshot.Record{
				RecvTime: t0,
				BidPrice: optsnapshot.PriceWeight{Price: callMid - 0.05, Weight: 1},
				AskPrice: optsnapshot.PriceWeight{Price: callMid + 0.05, Weight: 1},
				Price:    optsnapshot.PriceWeight{Price: callMid, Weight: 1},
			}
			puts[key] = optsnapshot.Record{
				RecvTime: t0,
				BidPrice: optsnapshot.PriceWeight{Price: putMid - 0.05, Weight: 1},
				AskPrice: optsnapshot.PriceWeight{Price: putMid + 0.05, Weight: 1},
				Price:    optsnapshot.PriceWeight{Price: putMid, Weight: 1},
			}
		}
		return optchain.OptionChain{
			Underlier:     "SPY",
			ValuationDate: "2024-06-06",
			ExpiryDate:    "2024-06-06",
			Calls:         calls,
			Puts:          puts,
		}
	}

	It("recovers a parity rate close to the underlying spot", func() {
		chain := makeChain()
		env := optmarket.NewStaticEnvironment(0.0, optmarket.NasdaqClose)
		rate, err := optchain.ParityRate(chain, env, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(rate).To(BeNumerically("~", 100.0, 0.5))
	})

	It("reports a low quality score for an internally consistent chain", func() {
		chain := makeChain()
		env := optmarket.NewStaticEnvironment(0.0, optmarket.NasdaqClose)
		score, err := optchain.ParityRateQualityScore(chain, env)
		Expect(err).NotTo(HaveOccurred())
		Expect(score).To(BeNumerically("<", 0.01))
	})
})

func parseStrikeKeyDollars(key string) (float64, error) {
	return float64(atoiMust(key[:5])) + float64(atoiMust(key[5:8]))/1000.0, nil
}

func atoiMust(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}
