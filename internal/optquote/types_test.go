// Copyright (c) 2025 Neomantra Corp

package optquote_test

import (
	"time"

	"github.com/algoratio/bento-optionchain/internal/optquote"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("fixed-point price conversion", func() {
	It("scales a 1e9-denominated integer price back to dollars", func() {
		Expect(optquote.PriceToFloat64(1_500_000_000)).To(BeNumerically("~", 1.5, 1e-9))
		Expect(optquote.PriceToFloat64(0)).To(Equal(0.0))
	})
})

var _ = Describe("CbboMsg timestamps", func() {
	It("converts ts_event nanoseconds to a UTC time.Time", func() {
		msg := optquote.CbboMsg{TsEvent: uint64(1_700_000_000) * 1_000_000_000}
		got := msg.TsEventTime()
		Expect(got.Location()).To(Equal(time.UTC))
		Expect(got.Unix()).To(Equal(int64(1_700_000_000)))
	})
})
