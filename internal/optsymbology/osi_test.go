// Copyright (c) 2025 Neomantra Corp

package optsymbology_test

import (
	"github.com/algoratio/bento-optionchain/internal/optsymbology"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ParseOsi", func() {
	It("extracts underlier, expiry date, type and strike from a well-formed identifier", func() {
		osi, err := optsymbology.ParseOsi("SPY   240607C00425000")
		Expect(err).NotTo(HaveOccurred())
		Expect(osi.Underlier).To(Equal("SPY"))
		Expect(osi.ExpiryDate).To(Equal("2024-06-07"))
		Expect(osi.Type).To(Equal(optsymbology.TypeCall))
		Expect(osi.IsCall()).To(BeTrue())
		Expect(osi.IsPut()).To(BeFalse())
		Expect(osi.Strike).To(Equal("425"))
		Expect(osi.StrikeKey()).To(Equal("00425000"))
	})

	It("renders a fractional strike without trailing zeros", func() {
		osi, err := optsymbology.ParseOsi("AAPL  241220P00150500")
		Expect(err).NotTo(HaveOccurred())
		Expect(osi.Strike).To(Equal("150.5"))
		Expect(osi.IsPut()).To(BeTrue())
	})

	It("rejects a malformed identifier", func() {
		_, err := optsymbology.ParseOsi("not-an-osi")
		Expect(err).To(MatchError(optsymbology.ErrInvalidOsi))
	})
})

var _ = Describe("strike key round-trip", func() {
	It("survives ToStrikeKey -> FromStrikeKey for a whole-dollar strike", func() {
		key := optsymbology.ToStrikeKey(425.0)
		Expect(key).To(Equal("00425000"))
		val, err := optsymbology.FromStrikeKey(key)
		Expect(err).NotTo(HaveOccurred())
		Expect(val).To(BeNumerically("~", 425.0, 1e-9))
	})

	It("survives ToStrikeKey -> FromStrikeKey for a fractional strike", func() {
		key := optsymbology.ToStrikeKey(150.5)
		val, err := optsymbology.FromStrikeKey(key)
		Expect(err).NotTo(HaveOccurred())
		Expect(val).To(BeNumerically("~", 150.5, 1e-9))
	})

	It("rejects a strike key of the wrong length", func() {
		_, err := optsymbology.FromStrikeKey("123")
		Expect(err).To(MatchError(optsymbology.ErrInvalidStrikeKey))
	})
})
