// Copyright (c) 2025 Neomantra Corp

package optsnapshot_test

import (
	"math"

	"github.com/algoratio/bento-optionchain/internal/optsnapshot"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("PriceWeight.Equal", func() {
	It("treats any two zero-weight values as equal regardless of price", func() {
		a := optsnapshot.PriceWeight{Price: math.NaN(), Weight: 0}
		b := optsnapshot.PriceWeight{Price: 42.0, Weight: 0}
		Expect(a.Equal(b)).To(BeTrue())
		Expect(b.Equal(a)).To(BeTrue())
	})

	It("requires both fields to match when either weight is non-zero", func() {
		a := optsnapshot.PriceWeight{Price: 1.5, Weight: 3}
		b := optsnapshot.PriceWeight{Price: 1.5, Weight: 3}
		Expect(a.Equal(b)).To(BeTrue())

		c := optsnapshot.PriceWeight{Price: 1.5, Weight: 4}
		Expect(a.Equal(c)).To(BeFalse())

		d := optsnapshot.PriceWeight{Price: 1.6, Weight: 3}
		Expect(a.Equal(d)).To(BeFalse())

		zero := optsnapshot.PriceWeight{Price: 0, Weight: 0}
		Expect(a.Equal(zero)).To(BeFalse())
	})
})
