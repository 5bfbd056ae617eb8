// Copyright (c) 2025 Neomantra Corp

package optgapfill_test

import (
	"math"
	"time"

	"github.com/algoratio/bento-optionchain/internal/optchain"
	"github.com/algoratio/bento-optionchain/internal/optgapfill"
	"github.com/algoratio/bento-optionchain/internal/optmarket"
	"github.com/algoratio/bento-optionchain/internal/optsnapshot"
	"github.com/algoratio/bento-optionchain/internal/optsymbology"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// syntheticChain builds a put-call-parity-consistent BNO-like chain over
// strikes 15..45 (step 1) centered on an at-the-money level of 28, with
// an additive, strike-symmetric time-value term so C - P == S - K holds
// exactly (matching put-call parity with a zero risk-free rate, so the
// discount factor is 1 regardless of time-to-expiry). blankPuts,
// blankCalls and blankBoth name the integer strikes whose bid/ask
// should be left entirely unset on the named side(s), simulating gaps a
// raw CBBO build left behind.
func syntheticChain(blankPuts, blankCalls, blankBoth []int) optchain.OptionChain {
	const spot = 28.0
	const timeValueScale = 3.0
	const timeValueDecay = 0.1
	t0 := time.Date(2025, 4, 28, 14, 30, 0, 0, time.UTC)

	isIn := func(list []int, k int) bool {
		for _, v := range list {
			if v == k {
				return true
			}
		}
		return false
	}

	puts := make(optsnapshot.RecordMap)
	calls := make(optsnapshot.RecordMap)
	for k := 15; k <= 45; k++ {
		strike := float64(k)
		key := optsymbology.ToStrikeKey(strike)
		timeValue := timeValueScale * math.Exp(-timeValueDecay*math.Abs(strike-spot))
		callIntrinsic := math.Max(0, spot-strike)
		putIntrinsic := math.Max(0, strike-spot)
		callMid := callIntrinsic + timeValue
		putMid := putIntrinsic + timeValue

		blankPut := isIn(blankPuts, k) || isIn(blankBoth, k)
		blankCall := isIn(blankCalls, k) || isIn(blankBoth, k)

		if blankPut {
			puts[key] = optsnapshot.Record{}
		} else {
			puts[key] = optsnapshot.Record{
				BidPrice: optsnapshot.PriceWeight{Price: putMid - 0.05, Weight: 1},
				AskPrice: optsnapshot.PriceWeight{Price: putMid + 0.05, Weight: 1},
				RecvTime: t0,
			}
		}
		if blankCall {
			calls[key] = optsnapshot.Record{}
		} else {
			calls[key] = optsnapshot.Record{
				BidPrice: optsnapshot.PriceWeight{Price: callMid - 0.05, Weight: 1},
				AskPrice: optsnapshot.PriceWeight{Price: callMid + 0.05, Weight: 1},
				RecvTime: t0,
			}
		}
	}

	return optchain.OptionChain{
		Underlier:                "BNO",
		ValuationDate:            "2025-04-28",
		ExpiryDate:               "2025-05-16",
		Puts:                     puts,
		Calls:                    calls,
		MissingInstrumentIDToOsi: map[string]string{},
	}
}

var zeroRateEnv = optmarket.NewStaticEnvironment(0, optmarket.NasdaqClose)

var _ = Describe("FillGaps", func() {
	It("fills an interior gap by put-call parity without touching bracketing strikes", func() {
		chain := syntheticChain(nil, []int{28}, nil)
		call27Before := chain.Calls[optsymbology.ToStrikeKey(27)]
		call29Before := chain.Calls[optsymbology.ToStrikeKey(29)]

		result := optgapfill.FillGaps(chain, zeroRateEnv, nil)

		call28 := result.Chain.Calls[optsymbology.ToStrikeKey(28)]
		Expect(call28.BidAskValid()).To(BeTrue())
		Expect(call28.Comment).To(Equal(optgapfill.CommentPCPFit))
		Expect(call28.BidPrice.Price).To(BeNumerically(">=", 0))
		Expect(call28.AskPrice.Price).To(BeNumerically(">", call28.BidPrice.Price))

		Expect(result.Chain.Calls[optsymbology.ToStrikeKey(27)]).To(Equal(call27Before))
		Expect(result.Chain.Calls[optsymbology.ToStrikeKey(29)]).To(Equal(call29Before))
		Expect(result.OrphanedPuts).To(BeEmpty())
		Expect(result.OrphanedCalls).To(BeEmpty())
	})

	It("log-linearly extrapolates far out-of-the-money tails on both sides", func() {
		// Blanking the lowest puts and highest calls leaves no valid
		// neighbor beyond them on either side, forcing the start/end
		// tail fit instead of the interior gap fit.
		blankPuts := []int{15, 16, 17}
		blankCalls := []int{43, 44, 45}
		chain := syntheticChain(blankPuts, blankCalls, nil)

		result := optgapfill.FillGaps(chain, zeroRateEnv, nil)

		prevMid := math.Inf(1)
		for _, k := range []int{17, 16, 15} {
			rec := result.Chain.Puts[optsymbology.ToStrikeKey(float64(k))]
			Expect(rec.Comment).To(Equal(optgapfill.CommentLogExtrapolate))
			Expect(rec.BidAskValid()).To(BeTrue())
			mid := rec.MidPrice()
			Expect(mid).To(BeNumerically(">", 0))
			Expect(mid).To(BeNumerically("<", prevMid))
			prevMid = mid
		}

		prevMid = math.Inf(1)
		for _, k := range blankCalls {
			rec := result.Chain.Calls[optsymbology.ToStrikeKey(float64(k))]
			Expect(rec.Comment).To(Equal(optgapfill.CommentLogExtrapolate))
			mid := rec.MidPrice()
			Expect(mid).To(BeNumerically(">", 0))
			Expect(mid).To(BeNumerically("<", prevMid))
			prevMid = mid
		}
	})

	It("bails out of the advanced fill when the ATM price cannot be estimated, leaving the gap empty", func() {
		chain := syntheticChain(nil, nil, []int{25, 26, 27, 28, 29, 30})

		result := optgapfill.FillGaps(chain, zeroRateEnv, nil)

		for k := 25; k <= 30; k++ {
			key := optsymbology.ToStrikeKey(float64(k))
			Expect(result.Chain.Puts[key].Empty()).To(BeTrue())
			Expect(result.Chain.Calls[key].Empty()).To(BeTrue())
		}
	})

	It("tags a half-sided record with spread-fit once the missing side is fitted", func() {
		chain := syntheticChain(nil, nil, nil)
		key := optsymbology.ToStrikeKey(20)
		rec := chain.Puts[key]
		rec.BidPrice = optsnapshot.PriceWeight{}
		chain.Puts[key] = rec

		result := optgapfill.FillGaps(chain, zeroRateEnv, nil)
		filled := result.Chain.Puts[key]
		Expect(filled.Comment).To(Equal(optgapfill.CommentSpreadFit))
		Expect(filled.BidAskValid()).To(BeTrue())
		Expect(filled.BidPrice.Price).To(BeNumerically("<", filled.AskPrice.Price))
	})

	It("preserves every originally valid record byte-for-byte", func() {
		chain := syntheticChain([]int{15, 16, 17}, []int{43, 44, 45}, nil)
		before := map[string]optsnapshot.Record{}
		for k, r := range chain.Puts {
			before["P"+k] = r
		}
		for k, r := range chain.Calls {
			before["C"+k] = r
		}

		result := optgapfill.FillGaps(chain, zeroRateEnv, nil)

		for k, r := range before {
			if !r.BidAskValid() {
				continue
			}
			side := result.Chain.Puts
			key := k[1:]
			if k[0] == 'C' {
				side = result.Chain.Calls
			}
			Expect(side[key]).To(Equal(r))
		}
	})
})
