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

package data

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Valuation holds the derived fields of a position at a given price.
type Valuation struct {
	Symbol                    string          `json:"symbol"`
	CurrentPrice              decimal.Decimal `json:"current_price"`
	MarketValue               decimal.Decimal `json:"market_value"`
	UnrealizedGainLoss        decimal.Decimal `json:"unrealized_gain_loss"`
	UnrealizedGainLossPercent decimal.Decimal `json:"unrealized_gain_loss_percent"`
}

// Revalue computes the same derived fields as the set-based positions update.
// The percent is zero when the cost basis is not positive.
func Revalue(quantity, averageCostBasis, price decimal.Decimal) Valuation {
	marketValue := quantity.Mul(price)
	v := Valuation{
		CurrentPrice:              price,
		MarketValue:               marketValue,
		UnrealizedGainLoss:        marketValue.Sub(quantity.Mul(averageCostBasis)),
		UnrealizedGainLossPercent: decimal.Zero,
	}
	if averageCostBasis.IsPositive() {
		v.UnrealizedGainLossPercent = price.Sub(averageCostBasis).Div(averageCostBasis).Mul(hundred)
	}
	return v
}

// RevaluePositions projects today's prices onto positions without writing.
// Positions with no price are skipped, matching the database update.
func RevaluePositions(positions []Position, prices []SecurityPrice) []Valuation {
	bySymbol := make(map[string]decimal.Decimal, len(prices))
	for _, p := range prices {
		bySymbol[p.Symbol] = p.Price
	}

	valuations := make([]Valuation, 0, len(positions))
	for _, pos := range positions {
		price, ok := bySymbol[pos.Symbol]
		if !ok || !pos.Quantity.IsPositive() {
			continue
		}
		v := Revalue(pos.Quantity, pos.AverageCostBasis, price)
		v.Symbol = pos.Symbol
		valuations = append(valuations, v)
	}
	return valuations
}
