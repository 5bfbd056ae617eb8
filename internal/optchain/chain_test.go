// Copyright (c) 2025 Neomantra Corp

package optchain_test

import (
	"time"

	"github.com/algoratio/bento-optionchain/internal/optchain"
	"github.com/algoratio/bento-optionchain/internal/optmarket"
	"github.com/algoratio/bento-optionchain/internal/optquote"
	"github.com/algoratio/bento-optionchain/internal/optsnapshot"
	"github.com/algoratio/bento-optionchain/internal/optsymbology"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func buildModel() *optsymbology.Model {
	model := optsymbology.NewModel()
	model.Insert(optquote.SymbologyResolution{
		Mappings: map[string][]optquote.MappingInterval{
			"SPY   240607C00420000": {{StartDate: "2024-06-06", Symbol: "1"}},
			"SPY   240607C00425000": {{StartDate: "2024-06-06", Symbol: "2"}},
			"SPY   240607P00420000": {{StartDate: "2024-06-06", Symbol: "3"}},
			"SPY   240607P00425000": {{StartDate: "2024-06-06", Symbol: "4"}},
		},
	})
	return model
}

var _ = Describe("Build", func() {
	It("fills missing instruments with empty records and reports them", func() {
		model := buildModel()
		t0 := time.Date(2024, 6, 6, 15, 0, 0, 0, time.UTC)
		records := optsnapshot.PutCallRecordMap{
			Puts: optsnapshot.RecordMap{
				"00420000": optsnapshot.Record{RecvTime: t0, BidPrice: optsnapshot.PriceWeight{Price: 1, Weight: 1}, AskPrice: optsnapshot.PriceWeight{Price: 1.1, Weight: 1}, Price: optsnapshot.PriceWeight{Price: 1.05, Weight: 1}},
			},
			Calls: optsnapshot.RecordMap{
				"00420000": optsnapshot.Record{RecvTime: t0, BidPrice: optsnapshot.PriceWeight{Price: 5, Weight: 1}, AskPrice: optsnapshot.PriceWeight{Price: 5.2, Weight: 1}, Price: optsnapshot.PriceWeight{Price: 5.1, Weight: 1}},
			},
		}
		chain, err := optchain.Build(records, model, "SPY", "2024-06-06", "2024-06-07", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(chain.MissingInstrumentIDToOsi).To(HaveLen(2))
		Expect(chain.Puts).To(HaveKey("00425000"))
		Expect(chain.Puts["00425000"].Empty()).To(BeTrue())
		Expect(chain.Calls).To(HaveKey("00425000"))
	})

	It("errors when no instrument table is resolved for the requested chain", func() {
		model := optsymbology.NewModel()
		_, err := optchain.Build(optsnapshot.PutCallRecordMap{Puts: optsnapshot.RecordMap{}, Calls: optsnapshot.RecordMap{}}, model, "SPY", "2024-06-06", "2024-06-07", nil)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("ChainTime", func() {
	It("returns the latest RecvTime across puts and calls", func() {
		older := time.Date(2024, 6, 6, 15, 0, 0, 0, time.UTC)
		newer := older.Add(time.Minute)
		chain := optchain.OptionChain{
			Calls: optsnapshot.RecordMap{"a": {RecvTime: older}},
			Puts:  optsnapshot.RecordMap{"b": {RecvTime: newer}},
		}
		Expect(chain.ChainTime()).To(Equal(newer))
	})
})

var _ = Describe("ExpiryTime", func() {
	It("combines the expiry date with the exchange close time in UTC", func() {
		chain := optchain.OptionChain{ExpiryDate: "2024-06-07"}
		loc, locErr := time.LoadLocation("America/New_York")
		if locErr != nil {
			Skip("America/New_York tzdata unavailable in this environment")
		}
		expected := time.Date(2024, 6, 7, optmarket.NasdaqClose.Hour, optmarket.NasdaqClose.Minute, 0, 0, loc).UTC()

		got, err := chain.ExpiryTime(optmarket.NasdaqClose)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(expected))
	})
})
