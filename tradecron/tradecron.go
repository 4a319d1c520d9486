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

package tradecron

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	AtOpen  = "@open"
	AtClose = "@close"

	maxIterations = 5000
)

// MarketHours are expressed as HHMM in the exchange timezone
type MarketHours struct {
	Open  int
	Close int
}

var (
	RegularHours = MarketHours{
		Open:  930,
		Close: 1600,
	}
	ExtendedHours = MarketHours{
		Open:  700,
		Close: 2000,
	}
)

type TradeCron struct {
	Schedule       cron.Schedule
	ScheduleString string
	TimeSpec       string
	TimeFlag       string
	marketStatus   *MarketStatus
}

// New parses a market aware schedule. Specs use the standard 5-field cron format of
// Minute Hour DayOfMonth Month DayOfWeek; omitted trailing fields default to '*'.
//
// Plain schedules only fire while the market is open. A leading modifier anchors the
// minute and hour fields to the open or close of the trading day and fires on every
// market day regardless of whether the market is open at that minute:
//
//	@open       - relative to market open, e.g. "@open 5" fires at 9:35
//	@close      - relative to market close, e.g. "@close 30" fires at 16:30
//
// On early close days @close schedules move forward with the close, so "@close 30"
// fires at 13:30 when the exchange closes at 13:00.
func New(spec string, status *MarketStatus) (*TradeCron, error) {
	scheduleStr := strings.TrimSpace(spec)
	if scheduleStr == "" {
		return nil, ErrEmptySpec
	}
	scheduleStr = expandBriefFormat(scheduleStr)

	timeSpecTokens := make([]string, 0, 5)
	timeFlag := ""
	for _, token := range strings.Fields(scheduleStr) {
		if token[0] != '@' {
			timeSpecTokens = append(timeSpecTokens, token)
			continue
		}
		if token != AtOpen && token != AtClose {
			return nil, ErrUnknownModifier
		}
		if timeFlag != "" {
			return nil, ErrConflictingModifiers
		}
		timeFlag = token
	}

	timeSpec := strings.Join(timeSpecTokens, " ")
	var err error
	switch timeFlag {
	case AtOpen:
		timeSpec, err = parseTimeRelativeTo(timeSpecTokens, status.hours.Open)
	case AtClose:
		timeSpec, err = parseTimeRelativeTo(timeSpecTokens, status.hours.Close)
	}
	if err != nil {
		return nil, err
	}

	specParser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := specParser.Parse(timeSpec)
	if err != nil {
		log.Error().Err(err).Str("TimeSpec", timeSpec).Str("TradeCronSpec", spec).Msg("robfig/cron could not parse timespec")
		return nil, err
	}

	return &TradeCron{
		Schedule:       schedule,
		ScheduleString: spec,
		TimeSpec:       timeSpec,
		TimeFlag:       timeFlag,
		marketStatus:   status,
	}, nil
}

// IsTradeDay returns true if the schedule fires at least once on the calendar day of forDate
func (tc *TradeCron) IsTradeDay(forDate time.Time) bool {
	tz := tc.marketStatus.tz
	local := forDate.In(tz)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tz)
	next := tc.Next(dayStart.Add(-time.Nanosecond))
	if next.IsZero() {
		return false
	}
	next = next.In(tz)
	return next.Year() == dayStart.Year() && next.YearDay() == dayStart.YearDay()
}

// Next returns the first time after forDate that the schedule fires. A zero time is
// returned when the underlying cron expression can never be satisfied.
func (tc *TradeCron) Next(forDate time.Time) time.Time {
	ms := tc.marketStatus
	checkDate := forDate.In(ms.tz)

	for iter := 0; iter < maxIterations; iter++ {
		checkDate = tc.Schedule.Next(checkDate)
		if checkDate.IsZero() {
			return checkDate
		}

		if tc.TimeFlag == "" {
			if ms.IsMarketOpen(checkDate) {
				return checkDate
			}
			continue
		}

		if !ms.IsMarketDay(checkDate) {
			continue
		}

		if tc.TimeFlag == AtClose {
			if early := ms.EarlyClose(checkDate); early != 0 {
				shift := time.Duration(minutesOfDay(ms.hours.Close)-minutesOfDay(early)) * time.Minute
				shifted := checkDate.Add(-shift)
				if shifted.After(forDate) {
					return shifted
				}
				continue
			}
		}

		return checkDate
	}

	log.Panic().Str("TimeSpec", tc.TimeSpec).Time("ForDate", forDate).Msg("something is wrong with tradecron schedule as it appears to be in an infinite loop")
	return time.Time{}
}

// Run calls job each time the schedule fires until ctx is canceled. Jobs run
// sequentially; a firing that comes due while job is still running is skipped.
func (tc *TradeCron) Run(ctx context.Context, now func() time.Time, job func(context.Context)) {
	subLog := log.With().Str("Schedule", tc.ScheduleString).Logger()

	for {
		next := tc.Next(now())
		if next.IsZero() {
			subLog.Warn().Msg("schedule never fires; stopping")
			return
		}
		subLog.Info().Time("NextRun", next).Msg("scheduled next run")

		timer := time.NewTimer(next.Sub(now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			job(ctx)
		}
	}
}

func minutesOfDay(hhmm int) int {
	return (hhmm/100)*60 + hhmm%100
}
