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

package data_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/treviwise/treviwise/data"
)

var _ = Describe("Valuation", func() {
	d := decimal.RequireFromString

	It("values 100 shares bought at $8.00 and priced at $10.00", func() {
		v := data.Revalue(d("100"), d("8.00"), d("10.00"))
		Expect(v.CurrentPrice.Equal(d("10"))).To(BeTrue())
		Expect(v.MarketValue.Equal(d("1000.00"))).To(BeTrue())
		Expect(v.UnrealizedGainLoss.Equal(d("200.00"))).To(BeTrue())
		Expect(v.UnrealizedGainLossPercent.Equal(d("25.0"))).To(BeTrue())
	})

	DescribeTable("percent is exactly zero without a cost basis",
		func(quantity, price string) {
			v := data.Revalue(d(quantity), decimal.Zero, d(price))
			Expect(v.UnrealizedGainLossPercent.IsZero()).To(BeTrue())
			Expect(v.UnrealizedGainLoss.Equal(v.MarketValue)).To(BeTrue())
		},
		Entry("gifted shares", "10", "42.17"),
		Entry("zero price", "10", "0"),
		Entry("zero quantity", "0", "12"),
	)

	It("reports a loss as a negative percent", func() {
		v := data.Revalue(d("40"), d("6.00"), d("5.50"))
		Expect(v.MarketValue.Equal(d("220"))).To(BeTrue())
		Expect(v.UnrealizedGainLoss.Equal(d("-20"))).To(BeTrue())
		Expect(v.UnrealizedGainLossPercent.Round(2).Equal(d("-8.33"))).To(BeTrue())
	})

	It("projects only positions with a price", func() {
		positions := []data.Position{
			{Symbol: "AAA", Quantity: d("100"), AverageCostBasis: d("8")},
			{Symbol: "BBB", Quantity: d("10"), AverageCostBasis: d("3")},
			{Symbol: "CCC", Quantity: d("0"), AverageCostBasis: d("6")},
		}
		prices := []data.SecurityPrice{
			{Symbol: "AAA", Price: d("10")},
			{Symbol: "CCC", Price: d("5.5")},
		}

		valuations := data.RevaluePositions(positions, prices)
		Expect(valuations).To(HaveLen(1))
		Expect(valuations[0].Symbol).To(Equal("AAA"))
		Expect(valuations[0].MarketValue.Equal(d("1000"))).To(BeTrue())
	})
})
