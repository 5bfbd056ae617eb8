// Copyright (c) 2025 Neomantra Corp

package optsnapshot_test

import (
	"time"

	"github.com/algoratio/bento-optionchain/internal/optquote"
	"github.com/algoratio/bento-optionchain/internal/optsnapshot"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func nanos(t time.Time) uint64 {
	return uint64(t.UnixNano())
}

var _ = Describe("MapIntoInstrumentLists", func() {
	It("keeps only messages whose instrument id is known", func() {
		msgs := []optquote.CbboMsg{
			{InstrumentID: 1},
			{InstrumentID: 2},
		}
		cbboMap := optsnapshot.MapIntoInstrumentLists(msgs, map[string]string{"1": "SPY   240607C00425000"})
		Expect(cbboMap).To(HaveKey("1"))
		Expect(cbboMap).NotTo(HaveKey("2"))
	})
})

var _ = Describe("BuildTimeline and CollapseTimeline", func() {
	base := time.Date(2024, 6, 7, 15, 30, 0, 0, time.UTC)
	idToOsi := map[string]string{"1": "SPY   240607C00425000"}

	It("prefers a later, more complete record for the same strike and slot", func() {
		older := optquote.CbboMsg{
			InstrumentID: 1,
			TsRecv:       nanos(base),
			Level:        optquote.BidAskPair{BidPx: 1_000_000_000, BidSz: 1},
		}
		newer := optquote.CbboMsg{
			InstrumentID: 1,
			TsRecv:       nanos(base.Add(time.Second)),
			Level:        optquote.BidAskPair{BidPx: 1_100_000_000, BidSz: 1, AskPx: 1_200_000_000, AskSz: 1},
		}
		cbboMap := optsnapshot.InstrumentIDToCbboMap{"1": {older, newer}}
		timeline, err := optsnapshot.BuildTimeline(cbboMap, idToOsi, time.Minute, nil)
		Expect(err).NotTo(HaveOccurred())

		collapsed := optsnapshot.CollapseTimeline(timeline)
		rec, ok := collapsed.Calls["00425000"]
		Expect(ok).To(BeTrue())
		Expect(rec.BidAskValid()).To(BeTrue())
		Expect(rec.BidPrice.Price).To(BeNumerically("~", 1.1, 1e-9))
	})

	It("drops records with neither bid nor ask set", func() {
		empty := optquote.CbboMsg{InstrumentID: 1, TsRecv: nanos(base)}
		cbboMap := optsnapshot.InstrumentIDToCbboMap{"1": {empty}}
		timeline, err := optsnapshot.BuildTimeline(cbboMap, idToOsi, time.Minute, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(timeline).To(BeEmpty())
	})
})

var _ = Describe("FindMissing", func() {
	It("flags instruments with no complete bid/ask pair in any of their messages", func() {
		idToOsi := map[string]string{
			"1": "SPY   240607C00425000",
			"2": "SPY   240607C00430000",
		}
		cbboMap := optsnapshot.InstrumentIDToCbboMap{
			"1": {{InstrumentID: 1, Level: optquote.BidAskPair{BidSz: 1, AskSz: 1}}},
			"2": {{InstrumentID: 2, Level: optquote.BidAskPair{BidSz: 1, AskSz: 0}}},
		}
		missing := optsnapshot.FindMissing(cbboMap, idToOsi)
		Expect(missing).To(Equal([]string{"2"}))
	})

	It("flags an instrument absent from cbboMap entirely", func() {
		idToOsi := map[string]string{"3": "SPY   240607C00440000"}
		missing := optsnapshot.FindMissing(optsnapshot.InstrumentIDToCbboMap{}, idToOsi)
		Expect(missing).To(Equal([]string{"3"}))
	})
})
