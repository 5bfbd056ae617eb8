// Copyright (c) 2025 Neomantra Corp

package chainpool_test

import (
	"errors"
	"time"

	"github.com/algoratio/bento-optionchain/internal/chainpool"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("JobPool", func() {
	It("produces exactly one result per posted job, with no duplicates", func() {
		pool := chainpool.NewJobPool(4)
		const n = 20
		ids := make(map[chainpool.JobID]bool, n)
		for i := 0; i < n; i++ {
			i := i
			id := pool.Post(func() {
				time.Sleep(time.Duration(i) * time.Millisecond)
			})
			ids[id] = true
		}
		seen := make(map[chainpool.JobID]bool, n)
		for len(seen) < n {
			for id := range pool.QueryAll() {
				Expect(seen[id]).To(BeFalse(), "job id must not be returned twice")
				seen[id] = true
			}
		}
		Expect(seen).To(HaveLen(n))
		for id := range ids {
			Expect(seen[id]).To(BeTrue())
		}
	})

	It("records a failed result with the error message on a recovered panic", func() {
		pool := chainpool.NewJobPool(1)
		id := pool.Post(func() {
			panic(errors.New("boom"))
		})
		pool.Join()
		result, err := pool.Query(id)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Failed).To(BeTrue())
		Expect(result.Message).To(Equal("boom"))
	})

	It("returns an error for an unknown job id", func() {
		pool := chainpool.NewJobPool(1)
		_, err := pool.Query(chainpool.JobID(9999))
		Expect(err).To(HaveOccurred())
	})

	It("QueryAll returns an empty map once all jobs are drained", func() {
		pool := chainpool.NewJobPool(2)
		id := pool.Post(func() {})
		_, err := pool.Query(id)
		for {
			remaining := pool.QueryAll()
			if len(remaining) == 0 {
				break
			}
		}
		Expect(err).NotTo(HaveOccurred())
	})
})
