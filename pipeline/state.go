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

// State is a stage of a market data run.
type State int

const (
	Idle State = iota
	ResolvingSymbols
	FetchingMarketData
	PersistingMarketData
	RecalculatingPositions
	RefreshingView
	Done
	Failed
)

var stateNames = map[State]string{
	Idle:                   "Idle",
	ResolvingSymbols:       "ResolvingSymbols",
	FetchingMarketData:     "FetchingMarketData",
	PersistingMarketData:   "PersistingMarketData",
	RecalculatingPositions: "RecalculatingPositions",
	RefreshingView:         "RefreshingView",
	Done:                   "Done",
	Failed:                 "Failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}
