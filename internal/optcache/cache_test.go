// Copyright (c) 2025 Neomantra Corp

package optcache_test

import (
	"time"

	"github.com/algoratio/bento-optionchain/internal/optcache"
	"github.com/algoratio/bento-optionchain/internal/optchain"
	"github.com/algoratio/bento-optionchain/internal/optmarket"
	"github.com/algoratio/bento-optionchain/internal/optsnapshot"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func sampleChain(underlier, expiryDate string, chainTime time.Time) optchain.OptionChain {
	rec := func(bid, ask float64) optsnapshot.Record {
		return optsnapshot.Record{
			BidPrice: optsnapshot.PriceWeight{Price: bid, Weight: 1},
			AskPrice: optsnapshot.PriceWeight{Price: ask, Weight: 1},
			RecvTime: chainTime,
		}
	}
	return optchain.OptionChain{
		Underlier:     underlier,
		ValuationDate: "2024-06-06",
		ExpiryDate:    expiryDate,
		Puts: optsnapshot.RecordMap{
			"00100000": rec(0.9, 1.0),
		},
		Calls: optsnapshot.RecordMap{
			"00100000": rec(1.9, 2.0),
		},
		MissingInstrumentIDToOsi: map[string]string{},
	}
}

var _ = Describe("Cache", func() {
	var (
		cache     *optcache.Cache
		t0        time.Time
		tolerance = 5 * time.Second
	)

	BeforeEach(func() {
		t0 = time.Date(2024, 6, 6, 15, 0, 0, 0, time.UTC)
		cache = optcache.NewCache(tolerance)
	})

	It("returns the exact chain submitted at a given chain time", func() {
		chain := sampleChain("SPY", "2024-06-07", t0)
		cache.Submit(chain)

		got, err := cache.GetRawOptionChain("SPY", "2024-06-07", t0)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ChainTime()).To(Equal(t0))
	})

	It("serves the nearest chain when the request falls within tolerance", func() {
		chain := sampleChain("SPY", "2024-06-07", t0)
		cache.Submit(chain)

		got, err := cache.GetRawOptionChain("SPY", "2024-06-07", t0.Add(3*time.Second))
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ChainTime()).To(Equal(t0))
	})

	It("rejects a request outside tolerance", func() {
		chain := sampleChain("SPY", "2024-06-07", t0)
		cache.Submit(chain)

		_, err := cache.GetRawOptionChain("SPY", "2024-06-07", t0.Add(time.Hour))
		Expect(err).To(HaveOccurred())
		Expect(cache.HasOptionChain("SPY", "2024-06-07", t0.Add(time.Hour))).To(BeFalse())
	})

	It("errors for an unknown symbol/expiry pair", func() {
		_, err := cache.GetRawOptionChain("QQQ", "2024-06-07", t0)
		Expect(err).To(HaveOccurred())
	})

	It("picks whichever of two bracketing chain times is closer", func() {
		earlier := sampleChain("SPY", "2024-06-07", t0)
		later := sampleChain("SPY", "2024-06-07", t0.Add(10*time.Second))
		cache.Submit(earlier)
		cache.Submit(later)

		closerToEarlier, err := cache.GetRawOptionChain("SPY", "2024-06-07", t0.Add(2*time.Second))
		Expect(err).NotTo(HaveOccurred())
		Expect(closerToEarlier.ChainTime()).To(Equal(t0))

		closerToLater, err := cache.GetRawOptionChain("SPY", "2024-06-07", t0.Add(8*time.Second))
		Expect(err).NotTo(HaveOccurred())
		Expect(closerToLater.ChainTime()).To(Equal(t0.Add(10 * time.Second)))
	})

	It("errors when no market environment was submitted for the symbol", func() {
		_, err := cache.GetMarketEnvironment("SPY")
		Expect(err).To(HaveOccurred())
	})

	It("returns a gap-filled chain once a market environment is submitted", func() {
		// spreadFit needs at least two fully valid strikes to fit a
		// line from, so this fixture carries three strikes and only
		// half-sides the middle one.
		rec := func(bid, ask float64) optsnapshot.Record {
			return optsnapshot.Record{
				BidPrice: optsnapshot.PriceWeight{Price: bid, Weight: 1},
				AskPrice: optsnapshot.PriceWeight{Price: ask, Weight: 1},
				RecvTime: t0,
			}
		}
		key := "00100000"
		chain := optchain.OptionChain{
			Underlier:     "SPY",
			ValuationDate: "2024-06-06",
			ExpiryDate:    "2024-06-07",
			Puts: optsnapshot.RecordMap{
				"00095000": rec(0.9, 1.0),
				key:        {BidPrice: optsnapshot.PriceWeight{Price: 1.8, Weight: 1}, RecvTime: t0},
				"00105000": rec(4.0, 4.2),
			},
			Calls: optsnapshot.RecordMap{
				"00095000": rec(6.0, 6.2),
				key:        rec(3.0, 3.2),
				"00105000": rec(1.0, 1.2),
			},
			MissingInstrumentIDToOsi: map[string]string{},
		}

		cache.Submit(chain)
		cache.SubmitMarketEnvironment("SPY", optmarket.NewStaticEnvironment(0.01, optmarket.NasdaqClose))

		enhanced, err := cache.GetOptionChain("SPY", "2024-06-07", t0, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(enhanced.Puts[key].BidAskValid()).To(BeTrue())
		Expect(enhanced.Puts[key].Comment).To(ContainSubstring("spread-fit"))
	})
})

var _ = Describe("NearestInTimeRange", func() {
	It("reports not-in-range for an empty map", func() {
		_, inRange := optcache.NearestInTimeRange(time.Now(), map[time.Time]int{}, time.Second)
		Expect(inRange).To(BeFalse())
	})

	It("falls back to the last key when the request is after every key", func() {
		t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		m := map[time.Time]int{t0: 1, t0.Add(time.Minute): 2}
		key, inRange := optcache.NearestInTimeRange(t0.Add(2*time.Minute), m, 90*time.Second)
		Expect(key).To(Equal(t0.Add(time.Minute)))
		Expect(inRange).To(BeTrue())
	})

	It("uses the single key when the request is before every key", func() {
		t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		m := map[time.Time]int{t0.Add(time.Minute): 1}
		key, inRange := optcache.NearestInTimeRange(t0, m, 30*time.Second)
		Expect(key).To(Equal(t0.Add(time.Minute)))
		Expect(inRange).To(BeFalse())
	})
})
