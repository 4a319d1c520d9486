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
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/treviwise/treviwise/data/database"
)

const holidaysSQL = `SELECT event_date, early_close, close_time
FROM market_holidays
WHERE event_date >= $1
ORDER BY event_date`

// MarketStatus answers whether the exchange trades on a given day or minute. Holidays
// are keyed by local midnight; a non-zero value is the early close time as HHMM.
type MarketStatus struct {
	hours MarketHours
	tz    *time.Location

	mu       sync.RWMutex
	holidays map[int64]int
}

func NewMarketStatus(hours MarketHours, tz *time.Location) *MarketStatus {
	if tz == nil {
		tz = time.UTC
	}
	return &MarketStatus{
		hours:    hours,
		tz:       tz,
		holidays: make(map[int64]int),
	}
}

// Location of the exchange
func (ms *MarketStatus) Location() *time.Location {
	return ms.tz
}

func (ms *MarketStatus) dayKey(t time.Time) int64 {
	local := t.In(ms.tz)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, ms.tz).Unix()
}

// AddHoliday marks day as closed, or as an early close when closeTime is non-zero
func (ms *MarketStatus) AddHoliday(day time.Time, closeTime int) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.holidays[ms.dayKey(day)] = closeTime
}

// EarlyClose returns close time of an early close market day, e.g. 1300; 0 otherwise
func (ms *MarketStatus) EarlyClose(t time.Time) int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.holidays[ms.dayKey(t)]
}

// IsMarketHoliday returns true if the exchange is closed all day
func (ms *MarketStatus) IsMarketHoliday(t time.Time) bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	closeTime, ok := ms.holidays[ms.dayKey(t)]
	return ok && closeTime == 0
}

// IsMarketDay returns true for weekdays that are not full holidays
func (ms *MarketStatus) IsMarketDay(t time.Time) bool {
	switch t.In(ms.tz).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !ms.IsMarketHoliday(t)
}

// IsMarketOpen returns true if t falls inside trading hours of a market day
func (ms *MarketStatus) IsMarketOpen(t time.Time) bool {
	if !ms.IsMarketDay(t) {
		return false
	}

	closeTime := ms.hours.Close
	if early := ms.EarlyClose(t); early != 0 {
		closeTime = early
	}

	local := t.In(ms.tz)
	timeOfDay := local.Hour()*100 + local.Minute()
	return timeOfDay >= ms.hours.Open && timeOfDay <= closeTime
}

// LoadMarketHolidays reads holidays on or after since from the market_holidays table
func (ms *MarketStatus) LoadMarketHolidays(ctx context.Context, db database.PgxIface, since time.Time) error {
	loaded := make(map[int64]int)

	err := database.WithTx(ctx, db, func(trx pgx.Tx) error {
		rows, err := trx.Query(ctx, holidaysSQL, since)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				eventDate  time.Time
				earlyClose bool
				closeTime  int64
			)
			if err := rows.Scan(&eventDate, &earlyClose, &closeTime); err != nil {
				return err
			}
			day := time.Date(eventDate.Year(), eventDate.Month(), eventDate.Day(), 0, 0, 0, 0, ms.tz)
			if earlyClose {
				loaded[day.Unix()] = int(closeTime)
			} else {
				loaded[day.Unix()] = 0
			}
		}
		return rows.Err()
	})
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not load market holidays")
		return errors.Wrap(err, "load market holidays")
	}

	ms.mu.Lock()
	ms.holidays = loaded
	ms.mu.Unlock()

	log.Info().Int("NumHolidays", len(loaded)).Time("Since", since).Msg("loaded market holidays")
	return nil
}
