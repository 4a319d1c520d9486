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
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"
	"github.com/shopspring/decimal"

	"github.com/treviwise/treviwise/data"
	"github.com/treviwise/treviwise/pgxmockhelper"
)

var _ = Describe("Reports", func() {
	var (
		dbPool  pgxmock.PgxConnIface
		reports *data.Reports
		ctx     context.Context
	)

	BeforeEach(func() {
		var err error
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		reports = data.NewReports(dbPool)
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(dbPool.ExpectationsWereMet()).To(Succeed())
	})

	It("loads open positions", func() {
		pgxmockhelper.MockPositionsQuery(dbPool, "../testdata/positions.csv")

		positions, err := reports.Positions(ctx)
		Expect(err).To(BeNil())
		Expect(positions).To(HaveLen(3))

		Expect(positions[0].Symbol).To(Equal("AAA"))
		Expect(positions[0].MarketValue.Valid).To(BeTrue())
		Expect(positions[0].Value().Equal(decimal.NewFromInt(1000))).To(BeTrue())
		Expect(positions[0].Brokerage).To(Equal("Interactive Brokers"))

		// never priced: value falls back to cost basis
		Expect(positions[2].Symbol).To(Equal("BBB"))
		Expect(positions[2].CurrentPrice.Valid).To(BeFalse())
		Expect(positions[2].LastUpdated).To(BeNil())
		Expect(positions[2].Value().Equal(positions[2].CostBasis())).To(BeTrue())
	})

	It("loads portfolio totals", func() {
		dbPool.ExpectBegin()
		dbPool.ExpectQuery("SUM\\(p.quantity \\* p.average_cost_basis\\)").WillReturnRows(
			pgxmock.NewRows([]string{"total_cost_basis", "total_market_value", "total_unrealized_gain_loss", "total_positions"}).
				AddRow("1040.00", "1220.00", "180.00", int64(3)))
		dbPool.ExpectCommit()

		totals, err := reports.PortfolioTotals(ctx)
		Expect(err).To(BeNil())
		Expect(totals.TotalPositions).To(Equal(int64(3)))
		Expect(totals.TotalMarketValue.Decimal.Equal(decimal.RequireFromString("1220"))).To(BeTrue())
	})

	It("passes the valuation date to the market prices query", func() {
		asOf := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
		createdAt := time.Date(2026, 10, 16, 20, 30, 0, 0, time.UTC)

		dbPool.ExpectBegin()
		dbPool.ExpectQuery("FROM market_prices mp").WithArgs(asOf).WillReturnRows(
			pgxmock.NewRows([]string{"symbol", "security_name", "price", "price_date", "created_at"}).
				AddRow("AAA", "Alpha Corp", "10.00", asOf, createdAt))
		dbPool.ExpectCommit()

		prices, err := reports.MarketPrices(ctx, asOf)
		Expect(err).To(BeNil())
		Expect(prices).To(HaveLen(1))
		Expect(prices[0].PriceDate).To(Equal(asOf))
		Expect(prices[0].CreatedAt).To(Equal(createdAt))
	})

	It("limits recent dividends", func() {
		since := time.Date(2025, 10, 16, 0, 0, 0, 0, time.UTC)
		exDate := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)

		dbPool.ExpectBegin()
		dbPool.ExpectQuery("FROM dividends d").WithArgs(since, 5).WillReturnRows(
			pgxmock.NewRows([]string{"symbol", "security_name", "ex_dividend_date", "payment_date", "dividend_amount", "frequency", "total_dividend_received"}).
				AddRow("AAA", "Alpha Corp", exDate, nil, "0.25", nil, "25.00"))
		dbPool.ExpectCommit()

		dividends, err := reports.RecentDividends(ctx, since, 5)
		Expect(err).To(BeNil())
		Expect(dividends).To(HaveLen(1))
		Expect(dividends[0].PaymentDate).To(BeNil())
		Expect(dividends[0].TotalDividendReceived.Equal(decimal.NewFromInt(25))).To(BeTrue())
	})

	It("pings the database", func() {
		dbPool.ExpectBegin()
		dbPool.ExpectQuery("SELECT 1").WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(int32(1)))
		dbPool.ExpectCommit()

		Expect(reports.Ping(ctx)).To(Succeed())
	})

	It("wraps query failures", func() {
		dbPool.ExpectBegin()
		dbPool.ExpectQuery("FROM current_net_worth_detailed").WillReturnError(errors.New("relation does not exist"))
		dbPool.ExpectRollback()

		_, err := reports.NetWorthDetail(ctx)
		Expect(err).To(MatchError(ContainSubstring("net worth detail")))
	})
})
