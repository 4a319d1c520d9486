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

package handler_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"

	"github.com/treviwise/treviwise/common"
	"github.com/treviwise/treviwise/data"
	"github.com/treviwise/treviwise/handler"
	"github.com/treviwise/treviwise/pgxmockhelper"
	"github.com/treviwise/treviwise/pipeline"
	"github.com/treviwise/treviwise/router"
)

type fakeRunner struct {
	summary *pipeline.Summary
	err     error
	calls   int
}

func (f *fakeRunner) Run(context.Context) (*pipeline.Summary, error) {
	f.calls++
	return f.summary, f.err
}

type fakeViews struct {
	err   error
	calls int
}

func (f *fakeViews) RefreshNetWorthView(context.Context) error {
	f.calls++
	return f.err
}

func do(app *fiber.App, method, target string) (int, []byte) {
	resp, err := app.Test(httptest.NewRequest(method, target, nil), -1)
	Expect(err).To(BeNil())
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	Expect(err).To(BeNil())
	return resp.StatusCode, body
}

func expectSummaryQueries(dbPool pgxmock.PgxConnIface) {
	dbPool.ExpectBegin()
	dbPool.ExpectQuery("SUM\\(p.quantity \\* p.average_cost_basis\\)").WillReturnRows(
		pgxmock.NewRows([]string{"total_cost_basis", "total_market_value", "total_unrealized_gain_loss", "total_positions"}).
			AddRow("1040.00", "1220.00", "180.00", int64(3)))
	dbPool.ExpectCommit()

	dbPool.ExpectBegin()
	dbPool.ExpectQuery("FROM investment_accounts ia").WillReturnRows(
		pgxmock.NewRows([]string{"institution_name", "cash_balance", "positions_value", "total_account_value"}).
			AddRow("Interactive Brokers", "500.00", "1220.00", "1720.00"))
	dbPool.ExpectCommit()

	expectAssetClasses(dbPool)
}

func expectAssetClasses(dbPool pgxmock.PgxConnIface) {
	dbPool.ExpectBegin()
	dbPool.ExpectQuery("GROUP BY asset_class").WillReturnRows(
		pgxmock.NewRows([]string{"asset_class", "count", "total_value", "percentage"}).
			AddRow("Equities", int64(3), "1220.00", "70.93").
			AddRow("Cash", int64(1), "500.00", "29.07"))
	dbPool.ExpectCommit()
}

var _ = Describe("Handler", func() {
	var (
		dbPool pgxmock.PgxConnIface
		app    *fiber.App
		runner *fakeRunner
		views  *fakeViews
		tz     *time.Location
		today  time.Time
	)

	BeforeEach(func() {
		var err error
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())

		cache, err := common.NewCache(common.CacheConfig{LocalSize: 16, TTL: time.Minute})
		Expect(err).To(BeNil())

		tz = common.GetTimezone()
		today = time.Date(2026, 10, 16, 0, 0, 0, 0, tz)
		runner = &fakeRunner{}
		views = &fakeViews{}

		api := &handler.API{
			Reports:     data.NewReports(dbPool),
			Cache:       cache,
			Runner:      runner,
			Views:       views,
			Location:    tz,
			Environment: "test",
			Now: func() time.Time {
				return time.Date(2026, 10, 16, 18, 0, 0, 0, time.UTC)
			},
		}
		app = router.NewApp(api, router.Config{})
	})

	AfterEach(func() {
		Expect(dbPool.ExpectationsWereMet()).To(Succeed())
	})

	It("identifies the service", func() {
		code, body := do(app, http.MethodGet, "/")
		Expect(code).To(Equal(fiber.StatusOK))

		var hello handler.HelloResponse
		Expect(json.Unmarshal(body, &hello)).To(Succeed())
		Expect(hello.Name).To(Equal("treviwise"))
		Expect(hello.Environment).To(Equal("test"))
	})

	Context("health", func() {
		It("reports a reachable database", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT 1").WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(int32(1)))
			dbPool.ExpectCommit()

			code, body := do(app, http.MethodGet, "/api/health")
			Expect(code).To(Equal(fiber.StatusOK))
			Expect(string(body)).To(ContainSubstring(`"status":"healthy"`))
		})

		It("reports an unreachable database", func() {
			dbPool.ExpectBegin().WillReturnError(errors.New("connection refused"))

			code, body := do(app, http.MethodGet, "/api/health")
			Expect(code).To(Equal(fiber.StatusServiceUnavailable))
			Expect(string(body)).To(ContainSubstring(`"status":"unhealthy"`))
		})
	})

	Context("positions", func() {
		It("returns open positions with numeric amounts", func() {
			pgxmockhelper.MockPositionsQuery(dbPool, "../testdata/positions.csv")

			code, body := do(app, http.MethodGet, "/api/positions")
			Expect(code).To(Equal(fiber.StatusOK))

			var positions []map[string]any
			Expect(json.Unmarshal(body, &positions)).To(Succeed())
			Expect(positions).To(HaveLen(3))
			Expect(positions[0]["symbol"]).To(Equal("AAA"))
			Expect(positions[0]["market_value"]).To(BeNumerically("==", 1000))
			Expect(positions[2]["current_price"]).To(BeNil())
		})

		It("returns 500 when the query fails", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT\\s+p.symbol").WillReturnError(errors.New("relation does not exist"))
			dbPool.ExpectRollback()

			code, body := do(app, http.MethodGet, "/api/positions")
			Expect(code).To(Equal(fiber.StatusInternalServerError))
			Expect(string(body)).To(ContainSubstring(`"status":"error"`))
		})
	})

	Context("dividends", func() {
		It("uses the requested limit over the last year", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("FROM dividends d").WithArgs(today.AddDate(-1, 0, 0), 5).WillReturnRows(
				pgxmock.NewRows([]string{"symbol", "security_name", "ex_dividend_date", "payment_date", "dividend_amount", "frequency", "total_dividend_received"}).
					AddRow("AAA", "Alpha Corp", time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC), nil, "0.25", nil, "25.00"))
			dbPool.ExpectCommit()

			code, body := do(app, http.MethodGet, "/api/dividends?limit=5")
			Expect(code).To(Equal(fiber.StatusOK))
			Expect(string(body)).To(ContainSubstring(`"total_dividend_received":25`))
		})

		It("defaults the limit to 20", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("FROM dividends d").WithArgs(pgxmock.AnyArg(), 20).WillReturnRows(
				pgxmock.NewRows([]string{"symbol", "security_name", "ex_dividend_date", "payment_date", "dividend_amount", "frequency", "total_dividend_received"}))
			dbPool.ExpectCommit()

			code, body := do(app, http.MethodGet, "/api/dividends")
			Expect(code).To(Equal(fiber.StatusOK))
			Expect(string(body)).To(Equal("[]"))
		})

		It("rejects a non-numeric limit", func() {
			code, _ := do(app, http.MethodGet, "/api/dividends?limit=lots")
			Expect(code).To(Equal(fiber.StatusBadRequest))
		})
	})

	Context("asset history", func() {
		It("queries the requested window", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("get_asset_value_history").WithArgs(int64(7), today.AddDate(0, 0, -30)).WillReturnRows(
				pgxmock.NewRows([]string{"value_date", "value_original", "value_usd"}).
					AddRow(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), "100.00", "325.00"))
			dbPool.ExpectCommit()

			code, body := do(app, http.MethodGet, "/api/asset/7/history?days=30")
			Expect(code).To(Equal(fiber.StatusOK))

			var resp handler.AssetHistoryResponse
			Expect(json.Unmarshal(body, &resp)).To(Succeed())
			Expect(resp.AssetID).To(Equal(int64(7)))
			Expect(resp.Days).To(Equal(30))
			Expect(resp.History).To(HaveLen(1))
		})

		DescribeTable("rejects bad parameters",
			func(target string) {
				code, _ := do(app, http.MethodGet, target)
				Expect(code).To(Equal(fiber.StatusBadRequest))
			},
			Entry("non-numeric id", "/api/asset/abc/history"),
			Entry("zero days", "/api/asset/7/history?days=0"),
			Entry("negative days", "/api/asset/7/history?days=-3"),
		)
	})

	It("lists market prices for today's valuation date", func() {
		dbPool.ExpectBegin()
		dbPool.ExpectQuery("FROM market_prices mp").WithArgs(today).WillReturnRows(
			pgxmock.NewRows([]string{"symbol", "security_name", "price", "price_date", "created_at"}).
				AddRow("AAA", "Alpha Corp", "10.00", today, time.Date(2026, 10, 16, 20, 30, 0, 0, time.UTC)))
		dbPool.ExpectCommit()

		code, body := do(app, http.MethodGet, "/api/market-prices")
		Expect(code).To(Equal(fiber.StatusOK))
		Expect(string(body)).To(ContainSubstring(`"price":10`))
	})

	Context("portfolio summary", func() {
		It("serves repeated requests from the cache until a refresh", func() {
			expectSummaryQueries(dbPool)

			code, first := do(app, http.MethodGet, "/api/portfolio/summary")
			Expect(code).To(Equal(fiber.StatusOK))

			var summary handler.PortfolioSummaryResponse
			Expect(json.Unmarshal(first, &summary)).To(Succeed())
			Expect(summary.Totals.TotalPositions).To(Equal(int64(3)))
			Expect(summary.Accounts).To(HaveLen(1))
			Expect(summary.AssetClasses).To(HaveLen(2))

			code, second := do(app, http.MethodGet, "/api/portfolio/summary")
			Expect(code).To(Equal(fiber.StatusOK))
			Expect(second).To(Equal(first))
			Expect(dbPool.ExpectationsWereMet()).To(Succeed())

			code, _ = do(app, http.MethodPost, "/api/refresh-data")
			Expect(code).To(Equal(fiber.StatusOK))
			Expect(views.calls).To(Equal(1))

			expectSummaryQueries(dbPool)
			code, _ = do(app, http.MethodGet, "/api/portfolio/summary")
			Expect(code).To(Equal(fiber.StatusOK))
		})

		It("does not cache failures", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SUM\\(p.quantity").WillReturnError(errors.New("timeout"))
			dbPool.ExpectRollback()

			code, _ := do(app, http.MethodGet, "/api/portfolio/summary")
			Expect(code).To(Equal(fiber.StatusInternalServerError))

			expectSummaryQueries(dbPool)
			code, _ = do(app, http.MethodGet, "/api/portfolio/summary")
			Expect(code).To(Equal(fiber.StatusOK))
		})
	})

	Context("net worth", func() {
		It("refreshes the view and totals the detail", func() {
			expectAssetClasses(dbPool)
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT\\s+source_type").WillReturnRows(
				pgxmock.NewRows([]string{"source_type", "source_name", "asset_class", "value_original", "value_usd", "base_currency"}).
					AddRow("position", "AAA", "Equities", "1000.00", "1000.00", "USD").
					AddRow("asset", "Savings", "Cash", "153.85", "500.00", "KWD").
					AddRow("asset", "Unvalued", "Other", nil, nil, "USD"))
			dbPool.ExpectCommit()

			code, body := do(app, http.MethodGet, "/api/net-worth")
			Expect(code).To(Equal(fiber.StatusOK))
			Expect(views.calls).To(Equal(1))

			var resp map[string]any
			Expect(json.Unmarshal(body, &resp)).To(Succeed())
			Expect(resp["total_net_worth"]).To(BeNumerically("==", 1500))
			Expect(resp["detail"]).To(HaveLen(3))
		})

		It("returns 500 when the refresh fails", func() {
			views.err = errors.New("function refresh_net_worth_view() does not exist")

			code, _ := do(app, http.MethodGet, "/api/net-worth")
			Expect(code).To(Equal(fiber.StatusInternalServerError))
		})

		It("returns 500 when a manual refresh fails", func() {
			views.err = errors.New("deadlock detected")

			code, body := do(app, http.MethodPost, "/api/refresh-data")
			Expect(code).To(Equal(fiber.StatusInternalServerError))
			Expect(string(body)).To(ContainSubstring("could not refresh net worth view"))
		})
	})

	Context("market data run", func() {
		It("returns the run summary", func() {
			runner.summary = &pipeline.Summary{
				RunID:            "run-1",
				States:           []pipeline.State{pipeline.Idle, pipeline.Done},
				SymbolsAttempted: 3,
				PricesObtained:   2,
				MissedKeys:       []string{"BBB"},
			}

			code, body := do(app, http.MethodPost, "/api/market-data/run")
			Expect(code).To(Equal(fiber.StatusOK))
			Expect(runner.calls).To(Equal(1))

			var resp map[string]any
			Expect(json.Unmarshal(body, &resp)).To(Succeed())
			Expect(resp["status"]).To(Equal("success"))
			Expect(resp["summary"]).To(HaveKeyWithValue("missed_keys", ConsistOf("BBB")))
			Expect(resp["summary"]).To(HaveKeyWithValue("states", Equal([]any{"Idle", "Done"})))
		})

		It("reports an overlapping run as a conflict", func() {
			runner.err = pipeline.ErrRunInProgress

			code, _ := do(app, http.MethodPost, "/api/market-data/run")
			Expect(code).To(Equal(fiber.StatusConflict))
		})

		It("reports a failed run", func() {
			runner.summary = &pipeline.Summary{RunID: "run-2", States: []pipeline.State{pipeline.Idle, pipeline.ResolvingSymbols, pipeline.Failed}}
			runner.err = &pipeline.StageError{Stage: pipeline.ResolvingSymbols, Err: errors.New("connection refused")}

			code, body := do(app, http.MethodPost, "/api/market-data/run")
			Expect(code).To(Equal(fiber.StatusInternalServerError))
			Expect(string(body)).To(ContainSubstring("connection refused"))
			Expect(string(body)).To(ContainSubstring(`"run_id":"run-2"`))
		})
	})
})
