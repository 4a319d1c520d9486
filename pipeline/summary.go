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

package pipeline

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/treviwise/treviwise/common"
	"github.com/treviwise/treviwise/data"
)

// Summary describes one market data run.
type Summary struct {
	RunID               string                      `json:"run_id"`
	AsOf                time.Time                   `json:"as_of"`
	States              []State                     `json:"states"`
	SymbolsAttempted    int                         `json:"symbols_attempted"`
	PricesObtained      int                         `json:"prices_obtained"`
	RatesAttempted      int                         `json:"rates_attempted"`
	RatesObtained       int                         `json:"rates_obtained"`
	PricesWritten       int                         `json:"prices_written"`
	RatesWritten        int                         `json:"rates_written"`
	PositionsUpdated    int64                       `json:"positions_updated"`
	Misses              map[data.FetchErrorKind]int `json:"misses"`
	MissedKeys          []string                    `json:"missed_keys"`
	UpstreamUnreachable bool                        `json:"upstream_unreachable"`
	PersistSkipped      bool                        `json:"persist_skipped"`
	StartedAt           time.Time                   `json:"started_at"`
	Duration            time.Duration               `json:"duration"`
}

func newSummary(runID string, asOf, startedAt time.Time) *Summary {
	return &Summary{
		RunID:      runID,
		AsOf:       asOf,
		States:     []State{Idle},
		Misses:     make(map[data.FetchErrorKind]int),
		MissedKeys: make([]string, 0),
		StartedAt:  startedAt,
	}
}

// State returns the last state the run entered.
func (s *Summary) State() State {
	return s.States[len(s.States)-1]
}

// Visited reports whether the run entered state.
func (s *Summary) Visited(state State) bool {
	for _, st := range s.States {
		if st == state {
			return true
		}
	}
	return false
}

func (s *Summary) addMisses(misses []*data.FetchError) {
	for _, m := range misses {
		s.Misses[m.Kind]++
		s.MissedKeys = append(s.MissedKeys, m.Key)
	}
	sort.Strings(s.MissedKeys)
}

// TotalMisses counts price and rate misses.
func (s *Summary) TotalMisses() int {
	total := 0
	for _, n := range s.Misses {
		total += n
	}
	return total
}

func (s *Summary) MarshalZerologObject(e *zerolog.Event) {
	e.Str("RunID", s.RunID).
		Str("AsOf", s.AsOf.Format(common.DateFormat)).
		Str("State", s.State().String()).
		Int("SymbolsAttempted", s.SymbolsAttempted).
		Int("PricesObtained", s.PricesObtained).
		Int("RatesAttempted", s.RatesAttempted).
		Int("RatesObtained", s.RatesObtained).
		Int64("PositionsUpdated", s.PositionsUpdated).
		Int("NumMisses", s.TotalMisses()).
		Strs("MissedKeys", s.MissedKeys).
		Bool("UpstreamUnreachable", s.UpstreamUnreachable).
		Dur("Duration", s.Duration)
}

// DividendSummary describes one dividend import.
type DividendSummary struct {
	RunID             string                      `json:"run_id"`
	SymbolsAttempted  int                         `json:"symbols_attempted"`
	HistoriesObtained int                         `json:"histories_obtained"`
	RecordsCollected  int                         `json:"records_collected"`
	RecordsStored     int                         `json:"records_stored"`
	Misses            map[data.FetchErrorKind]int `json:"misses"`
	Duration          time.Duration               `json:"duration"`
}

func (s *DividendSummary) MarshalZerologObject(e *zerolog.Event) {
	e.Str("RunID", s.RunID).
		Int("SymbolsAttempted", s.SymbolsAttempted).
		Int("HistoriesObtained", s.HistoriesObtained).
		Int("RecordsCollected", s.RecordsCollected).
		Int("RecordsStored", s.RecordsStored).
		Dur("Duration", s.Duration)
}
