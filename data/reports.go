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
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/treviwise/treviwise/data/database"
)

const (
	pingSQL = `SELECT 1`

	portfolioTotalsSQL = `SELECT
	SUM(p.quantity * p.average_cost_basis) AS total_cost_basis,
	SUM(p.market_value) AS total_market_value,
	SUM(p.unrealized_gain_loss) AS total_unrealized_gain_loss,
	COUNT(*) AS total_positions
FROM positions p
WHERE p.quantity > 0`

	accountsSQL = `SELECT
	i.institution_name,
	ia.cash_balance,
	COALESCE(SUM(p.market_value), 0) AS positions_value,
	ia.cash_balance + COALESCE(SUM(p.market_value), 0) AS total_account_value
FROM investment_accounts ia
JOIN institutions i ON ia.institution_id = i.institution_id
LEFT JOIN positions p ON ia.account_id = p.account_id
WHERE ia.is_active = TRUE
GROUP BY ia.account_id, i.institution_name, ia.cash_balance
ORDER BY total_account_value DESC`

	assetClassesSQL = `SELECT
	asset_class,
	COUNT(*) AS count,
	SUM(value_usd) AS total_value,
	ROUND(SUM(value_usd) / NULLIF((SELECT SUM(value_usd) FROM current_net_worth_detailed), 0) * 100, 2) AS percentage
FROM current_net_worth_detailed
GROUP BY asset_class
ORDER BY total_value DESC`

	positionsSQL = `SELECT
	p.symbol,
	sm.security_name,
	sm.security_type,
	p.quantity,
	p.average_cost_basis,
	p.current_price,
	p.market_value,
	p.unrealized_gain_loss,
	p.unrealized_gain_loss_percent,
	p.currency,
	p.last_updated,
	i.institution_name AS brokerage
FROM positions p
JOIN securities_master sm ON p.symbol = sm.symbol
JOIN investment_accounts ia ON p.account_id = ia.account_id
JOIN institutions i ON ia.institution_id = i.institution_id
WHERE p.quantity > 0
ORDER BY p.market_value DESC NULLS LAST`

	assetsSQL = `SELECT
	a.asset_id,
	a.asset_name,
	a.asset_type,
	ac.class_name AS asset_class,
	a.current_value_original,
	a.current_value_usd,
	a.base_currency,
	a.location,
	i.institution_name,
	a.last_manual_update,
	a.last_api_update
FROM assets a
JOIN asset_classes ac ON a.class_id = ac.class_id
JOIN institutions i ON a.institution_id = i.institution_id
WHERE a.is_active = TRUE
ORDER BY a.current_value_usd DESC NULLS LAST`

	dividendsSQL = `SELECT
	d.symbol,
	sm.security_name,
	d.ex_dividend_date,
	d.payment_date,
	d.dividend_amount,
	d.frequency,
	CASE WHEN p.quantity IS NOT NULL THEN d.dividend_amount * p.quantity ELSE 0 END AS total_dividend_received
FROM dividends d
JOIN securities_master sm ON d.symbol = sm.symbol
LEFT JOIN positions p ON d.symbol = p.symbol AND p.quantity > 0
WHERE d.ex_dividend_date >= $1
ORDER BY d.ex_dividend_date DESC
LIMIT $2`

	netWorthDetailSQL = `SELECT
	source_type,
	source_name,
	asset_class,
	value_original,
	value_usd,
	base_currency
FROM current_net_worth_detailed
ORDER BY value_usd DESC NULLS LAST`

	assetHistorySQL = `SELECT value_date, value_original, value_usd FROM get_asset_value_history($1, $2)`

	marketPricesSQL = `SELECT
	mp.symbol,
	sm.security_name,
	mp.price,
	mp.price_date,
	mp.created_at
FROM market_prices mp
JOIN securities_master sm ON mp.symbol = sm.symbol
WHERE mp.price_date = $1
ORDER BY mp.symbol`
)

// Reports runs the read-only queries behind the reporting API and the
// console summary.
type Reports struct {
	db database.PgxIface
}

func NewReports(db database.PgxIface) *Reports {
	return &Reports{db: db}
}

func queryRows[T any](ctx context.Context, db database.PgxIface, name string, sql string, scan func(pgx.Rows, *T) error, args ...any) ([]T, error) {
	result := make([]T, 0)
	err := database.WithTx(ctx, db, func(trx pgx.Tx) error {
		rows, err := trx.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var item T
			if err := scan(rows, &item); err != nil {
				return err
			}
			result = append(result, item)
		}
		return rows.Err()
	})
	if err != nil {
		log.Error().Stack().Err(err).Str("Query", name).Msg("report query failed")
		return nil, errors.Wrapf(err, "query %s", name)
	}
	return result, nil
}

// Ping checks the database round trip.
func (r *Reports) Ping(ctx context.Context) error {
	_, err := queryRows(ctx, r.db, "ping", pingSQL, func(rows pgx.Rows, one *int32) error {
		return rows.Scan(one)
	})
	return err
}

func (r *Reports) PortfolioTotals(ctx context.Context) (PortfolioTotals, error) {
	totals, err := queryRows(ctx, r.db, "portfolio totals", portfolioTotalsSQL, func(rows pgx.Rows, t *PortfolioTotals) error {
		return rows.Scan(&t.TotalCostBasis, &t.TotalMarketValue, &t.TotalUnrealizedGainLoss, &t.TotalPositions)
	})
	if err != nil {
		return PortfolioTotals{}, err
	}
	if len(totals) == 0 {
		return PortfolioTotals{}, nil
	}
	return totals[0], nil
}

func (r *Reports) Accounts(ctx context.Context) ([]AccountValue, error) {
	return queryRows(ctx, r.db, "accounts", accountsSQL, func(rows pgx.Rows, a *AccountValue) error {
		return rows.Scan(&a.InstitutionName, &a.CashBalance, &a.PositionsValue, &a.TotalAccountValue)
	})
}

// AssetClasses summarizes the net worth view by asset class.
func (r *Reports) AssetClasses(ctx context.Context) ([]AssetClassValue, error) {
	return queryRows(ctx, r.db, "asset classes", assetClassesSQL, func(rows pgx.Rows, a *AssetClassValue) error {
		return rows.Scan(&a.AssetClass, &a.Count, &a.TotalValue, &a.Percentage)
	})
}

// Positions returns the open positions ordered by market value.
func (r *Reports) Positions(ctx context.Context) ([]Position, error) {
	return queryRows(ctx, r.db, "positions", positionsSQL, func(rows pgx.Rows, p *Position) error {
		return rows.Scan(&p.Symbol, &p.SecurityName, &p.SecurityType, &p.Quantity, &p.AverageCostBasis,
			&p.CurrentPrice, &p.MarketValue, &p.UnrealizedGainLoss, &p.UnrealizedGainLossPercent,
			&p.Currency, &p.LastUpdated, &p.Brokerage)
	})
}

func (r *Reports) Assets(ctx context.Context) ([]Asset, error) {
	return queryRows(ctx, r.db, "assets", assetsSQL, func(rows pgx.Rows, a *Asset) error {
		return rows.Scan(&a.AssetID, &a.AssetName, &a.AssetType, &a.AssetClass, &a.CurrentValueOriginal,
			&a.CurrentValueUSD, &a.BaseCurrency, &a.Location, &a.InstitutionName, &a.LastManualUpdate,
			&a.LastAPIUpdate)
	})
}

// RecentDividends returns at most limit dividends with an ex-dividend date on
// or after since.
func (r *Reports) RecentDividends(ctx context.Context, since time.Time, limit int) ([]DividendPayment, error) {
	return queryRows(ctx, r.db, "dividends", dividendsSQL, func(rows pgx.Rows, d *DividendPayment) error {
		return rows.Scan(&d.Symbol, &d.SecurityName, &d.ExDividendDate, &d.PaymentDate, &d.DividendAmount,
			&d.Frequency, &d.TotalDividendReceived)
	}, since, limit)
}

func (r *Reports) NetWorthDetail(ctx context.Context) ([]NetWorthItem, error) {
	return queryRows(ctx, r.db, "net worth detail", netWorthDetailSQL, func(rows pgx.Rows, n *NetWorthItem) error {
		return rows.Scan(&n.SourceType, &n.SourceName, &n.AssetClass, &n.ValueOriginal, &n.ValueUSD, &n.BaseCurrency)
	})
}

func (r *Reports) AssetHistory(ctx context.Context, assetID int64, since time.Time) ([]AssetHistoryPoint, error) {
	return queryRows(ctx, r.db, "asset history", assetHistorySQL, func(rows pgx.Rows, h *AssetHistoryPoint) error {
		return rows.Scan(&h.ValueDate, &h.ValueOriginal, &h.ValueUSD)
	}, assetID, since)
}

// MarketPrices returns the prices stored for asOf.
func (r *Reports) MarketPrices(ctx context.Context, asOf time.Time) ([]MarketPrice, error) {
	return queryRows(ctx, r.db, "market prices", marketPricesSQL, func(rows pgx.Rows, m *MarketPrice) error {
		return rows.Scan(&m.Symbol, &m.SecurityName, &m.Price, &m.PriceDate, &m.CreatedAt)
	}, asOf)
}
