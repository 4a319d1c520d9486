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

import (
	"time"

	"github.com/shopspring/decimal"
)

// SecurityPrice is one observed price for a symbol on a valuation date. The
// (Symbol, Date) pair is the business key.
type SecurityPrice struct {
	Symbol        string           `json:"symbol"`
	Price         decimal.Decimal  `json:"price"`
	Currency      string           `json:"currency"`
	Date          time.Time        `json:"price_date"`
	ChangePercent *decimal.Decimal `json:"change_percent,omitempty"`
}

// ExchangeRate converts one unit of From into To. Keyed by (From, To, Date).
type ExchangeRate struct {
	From string          `json:"from_currency"`
	To   string          `json:"to_currency"`
	Rate decimal.Decimal `json:"rate"`
	Date time.Time       `json:"rate_date"`
}

// Dividend is a single dividend event for a symbol keyed by (Symbol, ExDate).
type Dividend struct {
	Symbol          string          `json:"symbol"`
	ExDate          time.Time       `json:"ex_dividend_date"`
	RecordDate      *time.Time      `json:"record_date"`
	PaymentDate     *time.Time      `json:"payment_date"`
	DeclarationDate *time.Time      `json:"declaration_date"`
	Amount          decimal.Decimal `json:"dividend_amount"`
	Currency        string          `json:"currency"`
}

// Valid reports whether the record carries the fields needed for an upsert.
func (d Dividend) Valid() bool {
	return d.Symbol != "" && !d.ExDate.IsZero() && !d.Amount.IsZero()
}

// Position is a holding as stored in the positions table joined with its
// security master and brokerage.
type Position struct {
	Symbol                    string              `json:"symbol"`
	SecurityName              string              `json:"security_name"`
	SecurityType              string              `json:"security_type"`
	Quantity                  decimal.Decimal     `json:"quantity"`
	AverageCostBasis          decimal.Decimal     `json:"average_cost_basis"`
	CurrentPrice              decimal.NullDecimal `json:"current_price"`
	MarketValue               decimal.NullDecimal `json:"market_value"`
	UnrealizedGainLoss        decimal.NullDecimal `json:"unrealized_gain_loss"`
	UnrealizedGainLossPercent decimal.NullDecimal `json:"unrealized_gain_loss_percent"`
	Currency                  string              `json:"currency"`
	LastUpdated               *time.Time          `json:"last_updated"`
	Brokerage                 string              `json:"brokerage"`
}

// CostBasis is quantity times the average cost basis.
func (p Position) CostBasis() decimal.Decimal {
	return p.Quantity.Mul(p.AverageCostBasis)
}

// Value returns the market value when known and the cost basis otherwise.
func (p Position) Value() decimal.Decimal {
	if p.MarketValue.Valid {
		return p.MarketValue.Decimal
	}
	return p.CostBasis()
}

type PortfolioTotals struct {
	TotalCostBasis          decimal.NullDecimal `json:"total_cost_basis"`
	TotalMarketValue        decimal.NullDecimal `json:"total_market_value"`
	TotalUnrealizedGainLoss decimal.NullDecimal `json:"total_unrealized_gain_loss"`
	TotalPositions          int64               `json:"total_positions"`
}

type AccountValue struct {
	InstitutionName   string          `json:"institution_name"`
	CashBalance       decimal.Decimal `json:"cash_balance"`
	PositionsValue    decimal.Decimal `json:"positions_value"`
	TotalAccountValue decimal.Decimal `json:"total_account_value"`
}

type AssetClassValue struct {
	AssetClass string              `json:"asset_class"`
	Count      int64               `json:"count"`
	TotalValue decimal.NullDecimal `json:"total_value"`
	Percentage decimal.NullDecimal `json:"percentage"`
}

type Asset struct {
	AssetID              int64               `json:"asset_id"`
	AssetName            string              `json:"asset_name"`
	AssetType            string              `json:"asset_type"`
	AssetClass           string              `json:"asset_class"`
	CurrentValueOriginal decimal.NullDecimal `json:"current_value_original"`
	CurrentValueUSD      decimal.NullDecimal `json:"current_value_usd"`
	BaseCurrency         string              `json:"base_currency"`
	Location             *string             `json:"location"`
	InstitutionName      string              `json:"institution_name"`
	LastManualUpdate     *time.Time          `json:"last_manual_update"`
	LastAPIUpdate        *time.Time          `json:"last_api_update"`
}

type DividendPayment struct {
	Symbol                string          `json:"symbol"`
	SecurityName          string          `json:"security_name"`
	ExDividendDate        time.Time       `json:"ex_dividend_date"`
	PaymentDate           *time.Time      `json:"payment_date"`
	DividendAmount        decimal.Decimal `json:"dividend_amount"`
	Frequency             *string         `json:"frequency"`
	TotalDividendReceived decimal.Decimal `json:"total_dividend_received"`
}

// NetWorthItem is one row of the denormalized net worth view.
type NetWorthItem struct {
	SourceType    string              `json:"source_type"`
	SourceName    string              `json:"source_name"`
	AssetClass    string              `json:"asset_class"`
	ValueOriginal decimal.NullDecimal `json:"value_original"`
	ValueUSD      decimal.NullDecimal `json:"value_usd"`
	BaseCurrency  string              `json:"base_currency"`
}

type AssetHistoryPoint struct {
	ValueDate     time.Time           `json:"value_date"`
	ValueOriginal decimal.NullDecimal `json:"value_original"`
	ValueUSD      decimal.NullDecimal `json:"value_usd"`
}

type MarketPrice struct {
	Symbol       string          `json:"symbol"`
	SecurityName string          `json:"security_name"`
	Price        decimal.Decimal `json:"price"`
	PriceDate    time.Time       `json:"price_date"`
	CreatedAt    time.Time       `json:"created_at"`
}
