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

package cmd

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/treviwise/treviwise/common"
	"github.com/treviwise/treviwise/data"
	"github.com/treviwise/treviwise/pipeline"
)

var hundred = decimal.NewFromInt(100)

// portfolioTotals sums cost basis and value over positions. The gain/loss
// percent is zero when the total cost basis is zero.
type portfolioTotals struct {
	Cost        decimal.Decimal
	Value       decimal.Decimal
	GainLoss    decimal.Decimal
	GainLossPct decimal.Decimal
}

func totalPositions(positions []data.Position) portfolioTotals {
	totals := portfolioTotals{
		Cost:        decimal.Zero,
		Value:       decimal.Zero,
		GainLossPct: decimal.Zero,
	}
	for _, pos := range positions {
		totals.Cost = totals.Cost.Add(pos.CostBasis())
		totals.Value = totals.Value.Add(pos.Value())
	}
	totals.GainLoss = totals.Value.Sub(totals.Cost)
	if !totals.Cost.IsZero() {
		totals.GainLossPct = totals.GainLoss.Div(totals.Cost).Mul(hundred)
	}
	return totals
}

// formatMoney renders amount in the minor units of currency; unknown
// currency codes fall back to two decimals
func formatMoney(amount decimal.Decimal, currency string) string {
	c := money.GetCurrency(currency)
	if c == nil {
		return fmt.Sprintf("%s %s", amount.StringFixed(2), currency)
	}
	minor := amount.Shift(int32(c.Fraction)).Round(0).IntPart()
	return money.New(minor, c.Code).Display()
}

func formatPercent(pct decimal.Decimal) string {
	return pct.StringFixed(2) + "%"
}

// printPortfolioSummary writes open positions and portfolio totals
func printPortfolioSummary(w io.Writer, positions []data.Position, baseCurrency string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Symbol", "Name", "Quantity", "Price", "Cost", "Value", "P&L %"})
	table.SetAutoWrapText(false)

	for _, pos := range positions {
		price := "-"
		if pos.CurrentPrice.Valid {
			price = formatMoney(pos.CurrentPrice.Decimal, pos.Currency)
		}
		pct := "-"
		if pos.UnrealizedGainLossPercent.Valid {
			pct = formatPercent(pos.UnrealizedGainLossPercent.Decimal)
		}
		table.Append([]string{
			pos.Symbol,
			pos.SecurityName,
			pos.Quantity.String(),
			price,
			formatMoney(pos.CostBasis(), pos.Currency),
			formatMoney(pos.Value(), pos.Currency),
			pct,
		})
	}

	totals := totalPositions(positions)
	table.SetFooter([]string{"", "Total", "", "", formatMoney(totals.Cost, baseCurrency), formatMoney(totals.Value, baseCurrency),
		fmt.Sprintf("%s (%s)", formatMoney(totals.GainLoss, baseCurrency), formatPercent(totals.GainLossPct))})
	table.Render()
}

// printProjection writes the revaluation a run would apply without writing it
func printProjection(w io.Writer, positions []data.Position, valuations []data.Valuation) {
	currencies := make(map[string]string, len(positions))
	for _, pos := range positions {
		currencies[pos.Symbol] = pos.Currency
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Symbol", "Price", "Market Value", "Gain/Loss", "Gain/Loss %"})
	for _, v := range valuations {
		ccy := currencies[v.Symbol]
		table.Append([]string{
			v.Symbol,
			formatMoney(v.CurrentPrice, ccy),
			formatMoney(v.MarketValue, ccy),
			formatMoney(v.UnrealizedGainLoss, ccy),
			formatPercent(v.UnrealizedGainLossPercent),
		})
	}
	table.Render()

	if skipped := len(positions) - len(valuations); skipped > 0 {
		fmt.Fprintf(w, "%d position(s) have no price for the valuation date and would keep their previous values\n", skipped)
	}
}

// printRunSummary writes the counts of a market data run
func printRunSummary(w io.Writer, summary *pipeline.Summary) {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Run", summary.RunID})

	table.AppendBulk([][]string{
		{"Valuation date", summary.AsOf.Format(common.DateFormat)},
		{"State", summary.State().String()},
		{"Prices fetched", ratio(summary.PricesObtained, summary.SymbolsAttempted)},
		{"Rates fetched", ratio(summary.RatesObtained, summary.RatesAttempted)},
		{"Prices written", strconv.Itoa(summary.PricesWritten)},
		{"Rates written", strconv.Itoa(summary.RatesWritten)},
		{"Positions updated", strconv.FormatInt(summary.PositionsUpdated, 10)},
		{"Misses", missesByKind(summary.Misses)},
	})
	if len(summary.MissedKeys) > 0 {
		table.Append([]string{"Missed", strings.Join(summary.MissedKeys, ", ")})
	}
	if summary.UpstreamUnreachable {
		table.Append([]string{"Upstream", "unreachable"})
	}
	if summary.PersistSkipped {
		table.Append([]string{"Persistence", "skipped, nothing fetched"})
	}
	table.Render()
}

func ratio(n, of int) string {
	return fmt.Sprintf("%d/%d", n, of)
}

// missesByKind renders misses as "kind=n" pairs in kind order
func missesByKind(misses map[data.FetchErrorKind]int) string {
	if len(misses) == 0 {
		return "0"
	}
	kinds := make([]string, 0, len(misses))
	for kind, n := range misses {
		kinds = append(kinds, fmt.Sprintf("%s=%d", kind, n))
	}
	sort.Strings(kinds)
	return strings.Join(kinds, ", ")
}
