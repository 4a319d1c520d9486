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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/treviwise/treviwise/common"
	"github.com/treviwise/treviwise/data/database"
	"github.com/treviwise/treviwise/observability/opentelemetry"
)

const (
	sampleSize = 3

	activeSymbolsSQL = `SELECT DISTINCT symbol
FROM securities_master
WHERE is_active = TRUE
  AND symbol IN (SELECT DISTINCT symbol FROM positions WHERE quantity > 0)
ORDER BY symbol`

	heldSymbolsSQL = `SELECT DISTINCT symbol FROM positions WHERE quantity > 0 ORDER BY symbol`

	upsertPriceSQL = `INSERT INTO market_prices (symbol, price, price_date, currency, change_percent, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (symbol, price_date) DO UPDATE SET
	price = EXCLUDED.price,
	change_percent = EXCLUDED.change_percent,
	created_at = EXCLUDED.created_at`

	upsertRateSQL = `INSERT INTO exchange_rates (from_currency, to_currency, rate, rate_date, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (from_currency, to_currency, rate_date) DO UPDATE SET
	rate = EXCLUDED.rate,
	created_at = EXCLUDED.created_at`

	upsertDividendSQL = `INSERT INTO dividends (symbol, ex_dividend_date, record_date, payment_date, declaration_date, dividend_amount, currency)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (symbol, ex_dividend_date) DO UPDATE SET
	dividend_amount = EXCLUDED.dividend_amount,
	record_date = EXCLUDED.record_date,
	payment_date = EXCLUDED.payment_date`

	// only prices dated on the valuation date are joined; positions without
	// one keep their previous values
	recalculatePositionsSQL = `UPDATE positions SET
	current_price = mp.price,
	market_value = positions.quantity * mp.price,
	unrealized_gain_loss = (positions.quantity * mp.price) - (positions.quantity * positions.average_cost_basis),
	unrealized_gain_loss_percent = CASE
		WHEN positions.average_cost_basis > 0 THEN ((mp.price - positions.average_cost_basis) / positions.average_cost_basis) * 100
		ELSE 0
	END,
	last_updated = CURRENT_TIMESTAMP
FROM market_prices mp
WHERE positions.symbol = mp.symbol
  AND mp.price_date = $1
  AND positions.quantity > 0`

	refreshNetWorthSQL = `SELECT refresh_net_worth_view()`
)

// MarketDB is the relational store for market data and the valuation chain.
// Every write runs in its own transaction holding the market data run lock.
type MarketDB struct {
	db  database.PgxIface
	now common.Clock
}

func NewMarketDB(db database.PgxIface) *MarketDB {
	return &MarketDB{
		db:  db,
		now: time.Now,
	}
}

// WithClock overrides the clock used for write timestamps.
func (m *MarketDB) WithClock(now common.Clock) *MarketDB {
	m.now = now
	return m
}

// ActiveSymbols returns the symbols that are active in the security master
// and held with a positive quantity, ordered by ticker.
func (m *MarketDB) ActiveSymbols(ctx context.Context) ([]string, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "marketdb.ActiveSymbols")
	defer span.End()

	symbols, err := m.querySymbols(ctx, activeSymbolsSQL)
	if err != nil {
		opentelemetry.Fail(span, err, "could not load active symbols")
		return nil, err
	}
	return symbols, nil
}

// HeldSymbols returns every symbol held with a positive quantity.
func (m *MarketDB) HeldSymbols(ctx context.Context) ([]string, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "marketdb.HeldSymbols")
	defer span.End()

	symbols, err := m.querySymbols(ctx, heldSymbolsSQL)
	if err != nil {
		opentelemetry.Fail(span, err, "could not load held symbols")
		return nil, err
	}
	return symbols, nil
}

func (m *MarketDB) querySymbols(ctx context.Context, sql string) ([]string, error) {
	symbols := make([]string, 0)
	err := database.WithTx(ctx, m.db, func(trx pgx.Tx) error {
		rows, err := trx.Query(ctx, sql)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var symbol string
			if err := rows.Scan(&symbol); err != nil {
				return err
			}
			symbols = append(symbols, symbol)
		}
		return rows.Err()
	})
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not query symbols")
		return nil, errors.Wrap(err, "query symbols")
	}
	return symbols, nil
}

// UpsertPrices writes the batch in one transaction keyed on (symbol, date).
// Any failure rolls back the whole batch.
func (m *MarketDB) UpsertPrices(ctx context.Context, prices []SecurityPrice) (int, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "marketdb.UpsertPrices")
	defer span.End()
	span.SetAttributes(attribute.Int("NumPrices", len(prices)))

	if len(prices) == 0 {
		return 0, nil
	}

	now := m.now()
	err := database.WithTx(ctx, m.db, func(trx pgx.Tx) error {
		if err := database.LockRun(ctx, trx); err != nil {
			return err
		}
		for _, price := range prices {
			if _, err := trx.Exec(ctx, upsertPriceSQL, price.Symbol, price.Price, price.Date, price.Currency, price.ChangePercent, now); err != nil {
				return errors.Wrapf(err, "upsert price for %s", price.Symbol)
			}
		}
		return nil
	})
	if err != nil {
		opentelemetry.Fail(span, err, "could not upsert market prices")
		log.Error().Stack().Err(err).Int("NumPrices", len(prices)).Interface("Sample", sample(prices)).Msg("failed to update market prices")
		return 0, err
	}

	log.Info().Int("NumPrices", len(prices)).Msg("updated market prices")
	return len(prices), nil
}

// UpsertRates writes the batch in one transaction keyed on the currency pair
// and date.
func (m *MarketDB) UpsertRates(ctx context.Context, rates []ExchangeRate) (int, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "marketdb.UpsertRates")
	defer span.End()
	span.SetAttributes(attribute.Int("NumRates", len(rates)))

	if len(rates) == 0 {
		return 0, nil
	}

	now := m.now()
	err := database.WithTx(ctx, m.db, func(trx pgx.Tx) error {
		if err := database.LockRun(ctx, trx); err != nil {
			return err
		}
		for _, rate := range rates {
			if _, err := trx.Exec(ctx, upsertRateSQL, rate.From, rate.To, rate.Rate, rate.Date, now); err != nil {
				return errors.Wrapf(err, "upsert rate for %s%s", rate.From, rate.To)
			}
		}
		return nil
	})
	if err != nil {
		opentelemetry.Fail(span, err, "could not upsert exchange rates")
		log.Error().Stack().Err(err).Int("NumRates", len(rates)).Interface("Sample", sample(rates)).Msg("failed to update exchange rates")
		return 0, err
	}

	log.Info().Int("NumRates", len(rates)).Msg("updated exchange rates")
	return len(rates), nil
}

// UpsertDividends writes the valid records of the batch in one transaction
// keyed on (symbol, ex-dividend date) and returns how many were written.
func (m *MarketDB) UpsertDividends(ctx context.Context, dividends []Dividend) (int, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "marketdb.UpsertDividends")
	defer span.End()

	valid := make([]Dividend, 0, len(dividends))
	for _, div := range dividends {
		if div.Valid() {
			valid = append(valid, div)
		}
	}
	span.SetAttributes(attribute.Int("NumDividends", len(valid)), attribute.Int("NumSkipped", len(dividends)-len(valid)))

	if len(valid) == 0 {
		return 0, nil
	}

	err := database.WithTx(ctx, m.db, func(trx pgx.Tx) error {
		for _, div := range valid {
			if _, err := trx.Exec(ctx, upsertDividendSQL, div.Symbol, div.ExDate, div.RecordDate, div.PaymentDate, div.DeclarationDate, div.Amount, div.Currency); err != nil {
				return errors.Wrapf(err, "upsert dividend for %s on %s", div.Symbol, div.ExDate.Format(common.DateFormat))
			}
		}
		return nil
	})
	if err != nil {
		opentelemetry.Fail(span, err, "could not upsert dividends")
		log.Error().Stack().Err(err).Int("NumDividends", len(valid)).Interface("Sample", sample(dividends)).Msg("failed to store dividends")
		return 0, err
	}

	log.Info().Int("NumDividends", len(valid)).Int("NumSkipped", len(dividends)-len(valid)).Msg("stored dividend records")
	return len(valid), nil
}

// RecalculatePositions revalues every open position that has a price dated
// asOf in a single set-based update and returns the number of rows changed.
func (m *MarketDB) RecalculatePositions(ctx context.Context, asOf time.Time) (int64, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "marketdb.RecalculatePositions")
	defer span.End()

	var updated int64
	err := database.WithTx(ctx, m.db, func(trx pgx.Tx) error {
		if err := database.LockRun(ctx, trx); err != nil {
			return err
		}
		tag, err := trx.Exec(ctx, recalculatePositionsSQL, asOf)
		if err != nil {
			return errors.Wrap(err, "recalculate positions")
		}
		updated = tag.RowsAffected()
		return nil
	})
	if err != nil {
		opentelemetry.Fail(span, err, "could not recalculate positions")
		log.Error().Stack().Err(err).Str("AsOf", asOf.Format(common.DateFormat)).Msg("failed to update position values")
		return 0, err
	}

	span.SetAttributes(attribute.Int64("PositionsUpdated", updated))
	log.Info().Int64("PositionsUpdated", updated).Str("AsOf", asOf.Format(common.DateFormat)).Msg("updated market values for positions")
	return updated, nil
}

// RefreshNetWorthView rebuilds the derived net worth view.
func (m *MarketDB) RefreshNetWorthView(ctx context.Context) error {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "marketdb.RefreshNetWorthView")
	defer span.End()

	err := database.WithTx(ctx, m.db, func(trx pgx.Tx) error {
		if err := database.LockRun(ctx, trx); err != nil {
			return err
		}
		_, err := trx.Exec(ctx, refreshNetWorthSQL)
		return errors.Wrap(err, "refresh net worth view")
	})
	if err != nil {
		opentelemetry.Fail(span, err, "could not refresh net worth view")
		log.Error().Stack().Err(err).Msg("failed to refresh net worth view")
		return err
	}

	log.Info().Msg("refreshed net worth view")
	return nil
}

func sample[T any](items []T) []T {
	if len(items) > sampleSize {
		return items[:sampleSize]
	}
	return items
}
