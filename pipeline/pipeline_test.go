// Copyright 2021-2026
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/treviwise/treviwise/common"
	"github.com/treviwise/treviwise/data"
	"github.com/treviwise/treviwise/pipeline"
)

var _ = Describe("Pipeline", func() {
	var (
		rec       *recorder
		resolver  *fakeResolver
		fetcher   *fakeFetcher
		store     *fakeStore
		valuer    *fakeValuer
		refresher *fakeRefresher
		p         *pipeline.Pipeline
		ctx       context.Context
		now       time.Time
		asOf      time.Time
	)

	BeforeEach(func() {
		tz := common.GetTimezone()
		// 02:30 UTC on the 17th is still the 16th in New York
		now = time.Date(2026, 10, 17, 2, 30, 0, 0, time.UTC)
		asOf = time.Date(2026, 10, 16, 0, 0, 0, 0, tz)

		rec = &recorder{}
		resolver = &fakeResolver{rec: rec, symbols: []string{"AAA", "BBB", "CCC"}}
		fetcher = &fakeFetcher{
			rec: rec,
			prices: data.PriceBatch{
				Attempted: 3,
				Items: []data.SecurityPrice{
					{Symbol: "AAA", Price: decimal.RequireFromString("10.00"), Currency: "USD", Date: asOf},
					{Symbol: "CCC", Price: decimal.RequireFromString("5.50"), Currency: "USD", Date: asOf},
				},
				Misses: []*data.FetchError{
					{Key: "BBB", Kind: data.FetchTimeout, Err: context.DeadlineExceeded},
				},
			},
			rates: data.RateBatch{
				Attempted: 3,
				Items: []data.ExchangeRate{
					{From: "USD", To: "KWD", Rate: decimal.RequireFromString("0.3071"), Date: asOf},
					{From: "USD", To: "EUR", Rate: decimal.RequireFromString("0.92"), Date: asOf},
					{From: "USD", To: "GBP", Rate: decimal.RequireFromString("0.79"), Date: asOf},
				},
			},
		}
		store = &fakeStore{rec: rec}
		valuer = &fakeValuer{rec: rec, updated: 2}
		refresher = &fakeRefresher{rec: rec}

		p = pipeline.New(pipeline.Config{
			BaseCurrency:  "USD",
			Currencies:    []string{"KWD", "EUR", "GBP"},
			Location:      tz,
			FetchDeadline: time.Minute,
		}, pipeline.Components{
			Resolver:  resolver,
			Prices:    fetcher,
			Rates:     fetcher,
			Store:     store,
			Valuer:    valuer,
			Refresher: refresher,
		}).WithClock(func() time.Time { return now })

		ctx = context.Background()
	})

	It("persists the fetched subset and recalculates when one symbol times out", func() {
		summary, err := p.Run(ctx)
		Expect(err).To(BeNil())

		Expect(summary.State()).To(Equal(pipeline.Done))
		Expect(summary.States).To(Equal([]pipeline.State{
			pipeline.Idle,
			pipeline.ResolvingSymbols,
			pipeline.FetchingMarketData,
			pipeline.PersistingMarketData,
			pipeline.RecalculatingPositions,
			pipeline.RefreshingView,
			pipeline.Done,
		}))

		Expect(summary.SymbolsAttempted).To(Equal(3))
		Expect(summary.PricesObtained).To(Equal(2))
		Expect(summary.RatesObtained).To(Equal(3))
		Expect(summary.PositionsUpdated).To(Equal(int64(2)))
		Expect(summary.Misses).To(Equal(map[data.FetchErrorKind]int{data.FetchTimeout: 1}))
		Expect(summary.MissedKeys).To(Equal([]string{"BBB"}))

		Expect(store.prices).To(HaveLen(2))
		Expect(store.prices[0].Symbol).To(Equal("AAA"))
		Expect(store.prices[1].Symbol).To(Equal("CCC"))
		Expect(store.rates).To(HaveLen(3))
	})

	It("persists before recalculating and refreshes last", func() {
		_, err := p.Run(ctx)
		Expect(err).To(BeNil())

		calls := rec.Calls()
		Expect(calls[0]).To(Equal("resolve"))
		Expect(calls[1:3]).To(ConsistOf("fetch-prices", "fetch-rates"))
		Expect(calls[3:]).To(Equal([]string{"upsert-prices", "upsert-rates", "recalculate", "refresh"}))
	})

	It("uses one valuation date in the market timezone for the whole run", func() {
		summary, err := p.Run(ctx)
		Expect(err).To(BeNil())

		Expect(summary.AsOf).To(Equal(asOf))
		Expect(fetcher.asOf).To(HaveLen(2))
		Expect(fetcher.asOf[0]).To(Equal(asOf))
		Expect(fetcher.asOf[1]).To(Equal(asOf))
		Expect(valuer.asOf).To(Equal(asOf))
		Expect(fetcher.currencies).To(Equal([]string{"KWD", "EUR", "GBP"}))
	})

	It("ends early when no symbols are held", func() {
		resolver.symbols = []string{}

		summary, err := p.Run(ctx)
		Expect(err).To(BeNil())
		Expect(summary.States).To(Equal([]pipeline.State{pipeline.Idle, pipeline.ResolvingSymbols, pipeline.Done}))
		Expect(rec.Calls()).To(Equal([]string{"resolve"}))
	})

	It("skips persistence but still recalculates when nothing was fetched", func() {
		fetcher.prices = data.PriceBatch{Attempted: 3}
		fetcher.rates = data.RateBatch{Attempted: 3}

		summary, err := p.Run(ctx)
		Expect(err).To(BeNil())
		Expect(summary.PersistSkipped).To(BeTrue())
		Expect(summary.State()).To(Equal(pipeline.Done))
		Expect(rec.Calls()).ToNot(ContainElement("upsert-prices"))
		Expect(rec.Calls()).To(ContainElements("recalculate", "refresh"))
	})

	It("warns but continues when the upstream is unreachable", func() {
		unreachable := func(keys ...string) []*data.FetchError {
			misses := make([]*data.FetchError, 0, len(keys))
			for _, k := range keys {
				misses = append(misses, &data.FetchError{Key: k, Kind: data.FetchNetwork, Err: errors.New("no route to host")})
			}
			return misses
		}
		fetcher.prices = data.PriceBatch{Attempted: 3, Misses: unreachable("AAA", "BBB", "CCC")}
		fetcher.rates = data.RateBatch{Attempted: 3, Misses: unreachable("USDKWD", "USDEUR", "USDGBP")}

		summary, err := p.Run(ctx)
		Expect(err).To(BeNil())
		Expect(summary.UpstreamUnreachable).To(BeTrue())
		Expect(summary.Misses[data.FetchNetwork]).To(Equal(6))
		Expect(summary.State()).To(Equal(pipeline.Done))
	})

	DescribeTable("fails the run when a write stage fails",
		func(setup func(), stage pipeline.State, notCalled []string) {
			setup()

			summary, err := p.Run(ctx)
			Expect(err).ToNot(BeNil())
			Expect(summary.State()).To(Equal(pipeline.Failed))

			var stageErr *pipeline.StageError
			Expect(errors.As(err, &stageErr)).To(BeTrue())
			Expect(stageErr.Stage).To(Equal(stage))
			for _, call := range notCalled {
				Expect(rec.Calls()).ToNot(ContainElement(call))
			}
		},
		Entry("price upsert", func() { store.pricesErr = errors.New("unique violation") }, pipeline.PersistingMarketData, []string{"upsert-rates", "recalculate", "refresh"}),
		Entry("rate upsert", func() { store.ratesErr = errors.New("connection lost") }, pipeline.PersistingMarketData, []string{"recalculate", "refresh"}),
		Entry("recalculation", func() { valuer.err = errors.New("deadlock detected") }, pipeline.RecalculatingPositions, []string{"refresh"}),
		Entry("view refresh", func() { refresher.err = errors.New("function does not exist") }, pipeline.RefreshingView, []string{}),
		Entry("symbol resolution", func() { resolver.err = errors.New("connection refused") }, pipeline.ResolvingSymbols, []string{"fetch-prices", "upsert-prices"}),
	)

	It("keeps the cause reachable through the stage error", func() {
		cause := errors.New("unique violation")
		store.pricesErr = cause

		_, err := p.Run(ctx)
		Expect(errors.Is(err, cause)).To(BeTrue())
	})

	It("rejects an overlapping run", func() {
		fetcher.started = make(chan struct{})
		fetcher.release = make(chan struct{})

		done := make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			_, err := p.Run(ctx)
			done <- err
		}()

		Eventually(fetcher.started).Should(BeClosed())

		summary, err := p.Run(ctx)
		Expect(summary).To(BeNil())
		Expect(err).To(MatchError(pipeline.ErrRunInProgress))

		close(fetcher.release)
		Eventually(done).Should(Receive(BeNil()))
	})

	It("previews without writing", func() {
		preview, err := p.Preview(ctx)
		Expect(err).To(BeNil())
		Expect(preview.Prices).To(HaveLen(2))
		Expect(preview.Rates).To(HaveLen(3))
		Expect(preview.Summary.State()).To(Equal(pipeline.Done))
		for _, call := range []string{"upsert-prices", "upsert-rates", "recalculate", "refresh"} {
			Expect(rec.Calls()).ToNot(ContainElement(call))
		}
		Expect(store.prices).To(BeEmpty())
	})
})

var _ = Describe("DividendImporter", func() {
	var (
		rec      *recorder
		resolver *fakeResolver
		fetcher  *fakeFetcher
		store    *fakeStore
		importer *pipeline.DividendImporter
		ctx      context.Context
		exDate   time.Time
	)

	BeforeEach(func() {
		exDate = time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)
		rec = &recorder{}
		resolver = &fakeResolver{rec: rec, symbols: []string{"AAA", "CCC"}}
		fetcher = &fakeFetcher{
			rec: rec,
			dividends: data.DividendBatch{
				Attempted: 2,
				Items: [][]data.Dividend{
					{
						{Symbol: "AAA", ExDate: exDate, Amount: decimal.RequireFromString("0.25"), Currency: "USD"},
						{Symbol: "AAA", Amount: decimal.RequireFromString("0.20"), Currency: "USD"},
					},
				},
				Misses: []*data.FetchError{{Key: "CCC", Kind: data.FetchStatus, StatusCode: 500}},
			},
		}
		store = &fakeStore{rec: rec}
		importer = pipeline.NewDividendImporter(resolver, fetcher, store, time.Minute)
		ctx = context.Background()
	})

	It("stores the valid records of the symbols that succeeded", func() {
		summary, err := importer.Run(ctx)
		Expect(err).To(BeNil())
		Expect(summary.SymbolsAttempted).To(Equal(2))
		Expect(summary.HistoriesObtained).To(Equal(1))
		Expect(summary.RecordsCollected).To(Equal(2))
		Expect(summary.RecordsStored).To(Equal(1))
		Expect(summary.Misses).To(Equal(map[data.FetchErrorKind]int{data.FetchStatus: 1}))
		Expect(store.dividends).To(HaveLen(1))
	})

	It("does not write when nothing was collected", func() {
		fetcher.dividends = data.DividendBatch{Attempted: 2}

		summary, err := importer.Run(ctx)
		Expect(err).To(BeNil())
		Expect(summary.RecordsCollected).To(Equal(0))
		Expect(rec.Calls()).ToNot(ContainElement("upsert-dividends"))
	})

	It("returns store errors", func() {
		store.dividendsErr = errors.New("violates foreign key constraint")

		_, err := importer.Run(ctx)
		Expect(err).To(MatchError(store.dividendsErr))
	})
})
