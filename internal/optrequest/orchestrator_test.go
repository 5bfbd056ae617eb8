// Copyright (c) 2025 Neomantra Corp

package optrequest_test

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/algoratio/bento-optionchain/internal/optcache"
	"github.com/algoratio/bento-optionchain/internal/optchain"
	"github.com/algoratio/bento-optionchain/internal/optmarket"
	"github.com/algoratio/bento-optionchain/internal/optplan"
	"github.com/algoratio/bento-optionchain/internal/optquote"
	"github.com/algoratio/bento-optionchain/internal/optrequest"
	"github.com/algoratio/bento-optionchain/internal/optsink"
	"github.com/algoratio/bento-optionchain/internal/optsymbology"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeProvider resolves a single canned symbology table and answers
// every CBBO request with one synthetic top-of-book message per
// instrument, so tests exercise the full plan/build/cache/persist path
// without a network.
type fakeProvider struct {
	resolution optquote.SymbologyResolution
	idToOsi    map[string]string
	at         time.Time
}

func (p *fakeProvider) ResolveSymbology(ctx context.Context, dataset, underlier, date string) (optquote.SymbologyResolution, error) {
	return p.resolution, nil
}

func (p *fakeProvider) GetCbboRange(ctx context.Context, ids []string, dataset string, schema optquote.Schema, at time.Time, window time.Duration) ([]optquote.CbboMsg, error) {
	var msgs []optquote.CbboMsg
	for _, id := range ids {
		n, _ := strconv.Atoi(id)
		bid := int64(n) * 1_000_000_000
		ask := bid + 500_000_000
		msgs = append(msgs, optquote.CbboMsg{
			InstrumentID: uint32(n),
			TsEvent:      uint64(p.at.UnixNano()),
			TsRecv:       uint64(p.at.UnixNano()),
			Price:        (bid + ask) / 2,
			Size:         1,
			Level: optquote.BidAskPair{
				BidPx: bid, AskPx: ask, BidSz: 1, AskSz: 1,
			},
		})
	}
	return msgs, nil
}

// recordingSink records every Persist/PersistMissing call instead of
// writing files, matching the teacher's own pattern of stubbing
// interface collaborators in tests.
type recordingSink struct {
	persisted []optchain.OptionChain
	missing   []optsink.MissingEntry
}

func (s *recordingSink) Persist(chain optchain.OptionChain, env optmarket.Environment, logger *slog.Logger) error {
	s.persisted = append(s.persisted, chain)
	return nil
}

func (s *recordingSink) PersistMissing(symbol, valuationDate string, missing []optsink.MissingEntry) error {
	s.missing = append(s.missing, missing...)
	return nil
}

var _ = Describe("Orchestrator", func() {
	var (
		provider *fakeProvider
		model    *optsymbology.Model
		cache    *optcache.Cache
		sink     *recordingSink
		at       time.Time
	)

	BeforeEach(func() {
		at = time.Date(2025, 4, 2, 17, 30, 0, 0, time.UTC)
		provider = &fakeProvider{
			at: at,
			resolution: optquote.SymbologyResolution{
				Mappings: map[string][]optquote.MappingInterval{
					"SPY   250404C00375000": {{StartDate: "2025-04-02", EndDate: "2025-04-03", Symbol: "1"}},
					"SPY   250404P00375000": {{StartDate: "2025-04-02", EndDate: "2025-04-03", Symbol: "2"}},
				},
			},
		}
		model = optsymbology.NewModel()
		cache = optcache.NewCache(5 * time.Minute)
		sink = &recordingSink{}
	})

	It("builds, caches and persists a valid chain end-to-end", func() {
		cfg := optrequest.Config{
			Dataset: "opra.pillar",
			NDte:    10,
			Plan:    optplan.DefaultConfig("opra.pillar", 10*time.Second, 30*time.Minute),
		}
		orch := optrequest.NewOrchestrator(provider, model, cache, sink, cfg, nil, nil)
		env := optmarket.NewStaticEnvironment(0.05, optmarket.NasdaqClose)

		err := orch.RequestOptionChains(context.Background(), "SPY", at, env)
		Expect(err).NotTo(HaveOccurred())
		Expect(sink.persisted).To(HaveLen(1))
		Expect(sink.persisted[0].Underlier).To(Equal("SPY"))
		Expect(sink.persisted[0].ExpiryDate).To(Equal("2025-04-04"))
		Expect(sink.missing).To(BeEmpty())
	})
})
