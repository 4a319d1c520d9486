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

package tradecron_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"

	"github.com/treviwise/treviwise/common"
	"github.com/treviwise/treviwise/pgxmockhelper"
	"github.com/treviwise/treviwise/tradecron"
)

var _ = Describe("Tradecron", func() {
	var (
		dbPool pgxmock.PgxConnIface
		tz     *time.Location
		status *tradecron.MarketStatus
	)

	BeforeEach(func() {
		var err error
		tz = common.GetTimezone()
		dbPool, err = pgxmock.NewConn()
		Expect(err).To(BeNil())

		pgxmockhelper.MockHolidaysQuery(dbPool, "../testdata/market_holidays.csv",
			time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC))

		status = tradecron.NewMarketStatus(tradecron.RegularHours, tz)
		Expect(status.LoadMarketHolidays(context.Background(), dbPool, time.Date(2026, 1, 1, 0, 0, 0, 0, tz))).To(Succeed())
		Expect(dbPool.ExpectationsWereMet()).To(Succeed())
	})

	DescribeTable("when parsing tradecron spec",
		func(spec string, hours tradecron.MarketHours, expectedTimeSpec string, expectedTimeFlag string, expectedError error) {
			cron, err := tradecron.New(spec, tradecron.NewMarketStatus(hours, tz))
			if expectedError == nil {
				Expect(err).To(BeNil())
				Expect(cron.ScheduleString).To(Equal(spec))
				Expect(cron.TimeSpec).To(Equal(expectedTimeSpec))
				Expect(cron.TimeFlag).To(Equal(expectedTimeFlag))
			} else {
				Expect(err).To(MatchError(expectedError))
			}
		},
		Entry("every 5 minutes", "*/5 * * * *", tradecron.RegularHours, "*/5 * * * *", "", nil),
		Entry("every 5 minutes brief form", "*/5", tradecron.RegularHours, "*/5 * * * *", "", nil),
		Entry("every 5 minutes 3 of 5 fields specified", "*/5 * *", tradecron.RegularHours, "*/5 * * * *", "", nil),
		Entry("every 5 minutes with surrounding whitespace", "  */5 ", tradecron.RegularHours, "*/5 * * * *", "", nil),
		Entry("at market open", "@open", tradecron.RegularHours, "30 9 * * *", "@open", nil),
		Entry("5 minutes after market open", "@open 5", tradecron.RegularHours, "35 9 * * *", "@open", nil),
		Entry("5 minutes before market open", "@open -5 0 * * *", tradecron.RegularHours, "25 9 * * *", "@open", nil),
		Entry("90 minutes after market open", "@open 90 0 * * *", tradecron.RegularHours, "0 11 * * *", "@open", nil),
		Entry("1 hour before market open", "@open 0 -1 * * *", tradecron.RegularHours, "30 8 * * *", "@open", nil),
		Entry("15 hours after market open", "@open 0 15 * * *", tradecron.RegularHours, "", "", tradecron.ErrFieldOutOfBounds),
		Entry("10 hours before market open", "@open 0 -10 * * *", tradecron.RegularHours, "", "", tradecron.ErrFieldOutOfBounds),
		Entry("30 minutes after market close", "@close 30", tradecron.RegularHours, "30 16 * * *", "@close", nil),
		Entry("30 minutes after market close on weekdays", "@close 30 0 * * 1-5", tradecron.RegularHours, "30 16 * * 1-5", "@close", nil),
		Entry("5 minutes before market close", "@close -5 0 * * *", tradecron.RegularHours, "55 15 * * *", "@close", nil),
		Entry("8 hours after market close", "@close 0 8 * * *", tradecron.RegularHours, "", "", tradecron.ErrFieldOutOfBounds),
		Entry("5 minutes after market open, extended hours", "@open 5", tradecron.ExtendedHours, "5 7 * * *", "@open", nil),
		Entry("5 minutes before market close, extended hours", "@close -5", tradecron.ExtendedHours, "55 19 * * *", "@close", nil),
		Entry("both @open @close specified", "@open @close", tradecron.RegularHours, "", "", tradecron.ErrConflictingModifiers),
		Entry("unknown modifier", "@monthend", tradecron.RegularHours, "", "", tradecron.ErrUnknownModifier),
		Entry("non-numeric relative minutes", "@close x", tradecron.RegularHours, "", "", tradecron.ErrMalformedTimeSpec),
		Entry("empty spec", "   ", tradecron.RegularHours, "", "", tradecron.ErrEmptySpec),
	)

	It("rejects malformed cron expressions", func() {
		_, err := tradecron.New("$/5 * * * *", status)
		Expect(err).To(HaveOccurred())

		_, err = tradecron.New("*/5 * * * * *", status)
		Expect(err).To(HaveOccurred())
	})

	DescribeTable("when evaluating next run",
		func(spec string, hours tradecron.MarketHours, given, expected []int) {
			ms := status
			if hours != tradecron.RegularHours {
				ms = tradecron.NewMarketStatus(hours, tz)
			}
			cron, err := tradecron.New(spec, ms)
			Expect(err).To(BeNil())

			from := time.Date(given[0], time.Month(given[1]), given[2], given[3], given[4], 0, 0, tz)
			want := time.Date(expected[0], time.Month(expected[1]), expected[2], expected[3], expected[4], 0, 0, tz)
			Expect(cron.Next(from)).To(BeTemporally("==", want))
		},
		Entry("close run later the same day", "@close 30", tradecron.RegularHours, []int{2026, 10, 16, 10, 0}, []int{2026, 10, 16, 16, 30}),
		Entry("close run exactly at fire time rolls over the weekend", "@close 30", tradecron.RegularHours, []int{2026, 10, 16, 16, 30}, []int{2026, 10, 19, 16, 30}),
		Entry("close run starting on saturday", "@close 30", tradecron.RegularHours, []int{2026, 10, 17, 0, 0}, []int{2026, 10, 19, 16, 30}),
		Entry("close run skips thanksgiving and follows the early close", "@close 30", tradecron.RegularHours, []int{2026, 11, 25, 17, 0}, []int{2026, 11, 27, 13, 30}),
		Entry("close run after an early close already fired", "@close 30", tradecron.RegularHours, []int{2026, 11, 27, 14, 0}, []int{2026, 11, 30, 16, 30}),
		Entry("close run on christmas eve", "@close 30", tradecron.RegularHours, []int{2026, 12, 24, 0, 0}, []int{2026, 12, 24, 13, 30}),
		Entry("close run skips observed independence day", "@close 30", tradecron.RegularHours, []int{2026, 7, 2, 17, 0}, []int{2026, 7, 6, 16, 30}),
		Entry("open run skips observed independence day", "@open", tradecron.RegularHours, []int{2026, 7, 2, 10, 0}, []int{2026, 7, 6, 9, 30}),
		Entry("every 5 minutes starting on saturday", "*/5", tradecron.RegularHours, []int{2026, 10, 17, 0, 0}, []int{2026, 10, 19, 9, 30}),
		Entry("every 5 minutes during the session", "*/5", tradecron.RegularHours, []int{2026, 10, 19, 9, 30}, []int{2026, 10, 19, 9, 35}),
		Entry("every 5 minutes at market close", "*/5", tradecron.RegularHours, []int{2026, 10, 19, 16, 0}, []int{2026, 10, 20, 9, 30}),
		Entry("every 5 minutes at early close", "*/5", tradecron.RegularHours, []int{2026, 11, 27, 13, 0}, []int{2026, 11, 30, 9, 30}),
		Entry("every 5 minutes before labor day", "*/5", tradecron.RegularHours, []int{2026, 9, 4, 16, 0}, []int{2026, 9, 8, 9, 30}),
		Entry("every 5 minutes, extended hours", "*/5", tradecron.ExtendedHours, []int{2026, 10, 19, 0, 0}, []int{2026, 10, 19, 7, 0}),
	)

	DescribeTable("when checking trade days",
		func(spec string, day []int, expected bool) {
			cron, err := tradecron.New(spec, status)
			Expect(err).To(BeNil())
			Expect(cron.IsTradeDay(time.Date(day[0], time.Month(day[1]), day[2], 12, 0, 0, 0, tz))).To(Equal(expected))
		},
		Entry("friday", "@close 30", []int{2026, 10, 16}, true),
		Entry("saturday", "@close 30", []int{2026, 10, 17}, false),
		Entry("thanksgiving", "@close 30", []int{2026, 11, 26}, false),
		Entry("early close", "@close 30", []int{2026, 11, 27}, true),
		Entry("christmas", "@close 30", []int{2026, 12, 25}, false),
		Entry("monday only schedule on labor day", "@close 30 0 * * 1", []int{2026, 9, 7}, false),
		Entry("monday only schedule on a regular monday", "@close 30 0 * * 1", []int{2026, 9, 14}, true),
		Entry("monday only schedule on tuesday", "@close 30 0 * * 1", []int{2026, 9, 8}, false),
	)

	Describe("market status", func() {
		It("distinguishes holidays from early closes", func() {
			thanksgiving := time.Date(2026, 11, 26, 12, 0, 0, 0, tz)
			blackFriday := time.Date(2026, 11, 27, 12, 0, 0, 0, tz)

			Expect(status.IsMarketHoliday(thanksgiving)).To(BeTrue())
			Expect(status.IsMarketDay(thanksgiving)).To(BeFalse())
			Expect(status.IsMarketHoliday(blackFriday)).To(BeFalse())
			Expect(status.EarlyClose(blackFriday)).To(Equal(1300))
			Expect(status.IsMarketOpen(blackFriday)).To(BeTrue())
			Expect(status.IsMarketOpen(time.Date(2026, 11, 27, 13, 30, 0, 0, tz))).To(BeFalse())
		})

		It("evaluates times in the exchange timezone", func() {
			// 14:00 UTC is 10:00 in New York
			Expect(status.IsMarketOpen(time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC))).To(BeTrue())
			// 02:00 UTC saturday is still friday evening in New York
			Expect(status.IsMarketDay(time.Date(2026, 10, 17, 2, 0, 0, 0, time.UTC))).To(BeTrue())
		})

		It("keeps the previous calendar when the load fails", func() {
			dbPool.ExpectBegin()
			dbPool.ExpectQuery("SELECT event_date, early_close, close_time").WillReturnError(errors.New("connection reset"))
			dbPool.ExpectRollback()

			err := status.LoadMarketHolidays(context.Background(), dbPool, time.Date(2026, 1, 1, 0, 0, 0, 0, tz))
			Expect(err).To(HaveOccurred())
			Expect(dbPool.ExpectationsWereMet()).To(Succeed())
			Expect(status.IsMarketHoliday(time.Date(2026, 12, 25, 12, 0, 0, 0, tz))).To(BeTrue())
		})

		It("accepts holidays added at runtime", func() {
			day := time.Date(2026, 10, 20, 0, 0, 0, 0, tz)
			Expect(status.IsMarketDay(day)).To(BeTrue())
			status.AddHoliday(day, 0)
			Expect(status.IsMarketDay(day)).To(BeFalse())
		})
	})

	Describe("running a schedule", func() {
		It("returns once the context is canceled", func() {
			cron, err := tradecron.New("@close 30", status)
			Expect(err).To(BeNil())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			calls := 0
			go func() {
				defer close(done)
				cron.Run(ctx, time.Now, func(context.Context) { calls++ })
			}()
			cancel()
			Eventually(done).Should(BeClosed())
			Expect(calls).To(Equal(0))
		})
	})
})
