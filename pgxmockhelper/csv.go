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

package pgxmockhelper

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pashagolub/pgxmock"
	"github.com/rs/zerolog/log"
)

// CSVRows turns a CSV fixture into pgxmock rows. Empty cells become NULL;
// decimal columns are kept as strings so the destination scanner parses them.
type CSVRows struct {
	rows    [][]any
	header  []string
	dateCol int
}

func NewCSVRows(csvFn string, typeMap map[string]string) *CSVRows {
	subLog := log.With().Str("CsvFn", csvFn).Logger()

	rows := &CSVRows{
		dateCol: -1,
		rows:    make([][]any, 0),
	}
	rawData, err := os.ReadFile(csvFn)
	if err != nil {
		subLog.Panic().Err(err).Msg("could not read file")
	}

	lines := strings.Split(string(rawData), "\n")
	if len(lines) < 2 {
		subLog.Panic().Int("NumLines", len(lines)).Msg("input file does not have enough lines, need at least 2 (header + trailing new line)")
	}
	if lines[len(lines)-1] != "" {
		subLog.Panic().Msg("input file is missing a trailing new line")
	}

	rows.header = strings.Split(lines[0], ",")
	lines = lines[1 : len(lines)-1]

	for _, ll := range lines {
		cols := make([]any, len(rows.header))
		parts := strings.Split(ll, ",")
		if len(parts) != len(rows.header) {
			subLog.Panic().Str("Line", ll).Int("NumCols", len(parts)).Msg("column count does not match header")
		}
		for idx, val := range parts {
			colName := rows.header[idx]
			if val == "" {
				cols[idx] = nil
				continue
			}
			switch typeMap[colName] {
			case "date":
				parsed, err := time.Parse("2006-01-02", val)
				if err != nil {
					subLog.Panic().Err(err).Str("Val", val).Msg("could not convert val to date of format 2006-01-02")
				}
				cols[idx] = parsed
				rows.dateCol = idx
			case "timestamp":
				parsed, err := time.Parse(time.RFC3339, val)
				if err != nil {
					subLog.Panic().Err(err).Str("Val", val).Msg("could not convert val to RFC3339 timestamp")
				}
				cols[idx] = parsed
			case "int64":
				parsed, err := strconv.ParseInt(val, 10, 64)
				if err != nil {
					subLog.Panic().Err(err).Str("Val", val).Msg("could not convert val to int64")
				}
				cols[idx] = parsed
			case "bool":
				parsed, err := strconv.ParseBool(val)
				if err != nil {
					subLog.Panic().Err(err).Str("Val", val).Msg("could not convert val to bool")
				}
				cols[idx] = parsed
			default:
				// strings and decimals are passed through as is
				cols[idx] = val
			}
		}
		rows.rows = append(rows.rows, cols)
	}

	return rows
}

// Between keeps rows whose date column falls in [a, b].
func (csvRows *CSVRows) Between(a time.Time, b time.Time) *CSVRows {
	newRows := make([][]any, 0, len(csvRows.rows))
	if len(csvRows.rows) == 0 {
		return csvRows
	}
	if csvRows.dateCol == -1 {
		log.Panic().Time("a", a).Time("b", b).Msg("no date column found")
	}
	for _, row := range csvRows.rows {
		t, ok := row[csvRows.dateCol].(time.Time)
		if !ok {
			continue
		}
		if (t.Before(b) || t.Equal(b)) && (t.After(a) || t.Equal(a)) {
			newRows = append(newRows, row)
		}
	}
	csvRows.rows = newRows
	return csvRows
}

func (csvRows *CSVRows) Len() int {
	return len(csvRows.rows)
}

func (csvRows *CSVRows) Rows() *pgxmock.Rows {
	r := pgxmock.NewRows(csvRows.header)
	for _, row := range csvRows.rows {
		r.AddRow(row...)
	}
	return r
}

// MockSymbolQuery expects a transaction that selects the symbols listed in fn.
func MockSymbolQuery(db pgxmock.PgxConnIface, fn string) {
	db.ExpectBegin()
	db.ExpectQuery("SELECT DISTINCT symbol").WillReturnRows(NewCSVRows(fn, nil).Rows())
	db.ExpectCommit()
}

// MockPositionsQuery expects the open positions report query.
func MockPositionsQuery(db pgxmock.PgxConnIface, fn string) {
	db.ExpectBegin()
	db.ExpectQuery("SELECT\\s+p.symbol").WillReturnRows(
		NewCSVRows(fn, map[string]string{
			"last_updated": "timestamp",
		}).Rows())
	db.ExpectCommit()
}

// MockHolidaysQuery expects the market holiday load restricted to [a, b].
func MockHolidaysQuery(db pgxmock.PgxConnIface, fn string, a, b time.Time) {
	db.ExpectBegin()
	db.ExpectQuery("SELECT event_date, early_close, close_time").WillReturnRows(
		NewCSVRows(fn, map[string]string{
			"event_date":  "date",
			"early_close": "bool",
			"close_time":  "int64",
		}).Between(a, b).Rows())
	db.ExpectCommit()
}
