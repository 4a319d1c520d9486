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

package common

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultTimezone = "America/New_York" // New York is the reference time
	DateFormat      = "2006-01-02"
)

var (
	ErrMissingConfig = errors.New("required configuration value is missing")
)

// Clock returns the current time; replaced in tests
type Clock func() time.Time

// LoadTimezone loads the named location, falling back to the reference timezone when name is empty
func LoadTimezone(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	tz, err := time.LoadLocation(name)
	if err != nil {
		log.Error().Err(err).Str("Timezone", name).Msg("could not load timezone")
		return nil, err
	}
	return tz, nil
}

// GetTimezone returns the reference timezone and panics if it is unavailable
func GetTimezone() *time.Location {
	tz, err := LoadTimezone(DefaultTimezone)
	if err != nil {
		log.Panic().Err(err).Msg("could not load timezone")
	}
	return tz
}

// ValuationDate truncates t to midnight of its calendar day in tz. Every price written by a
// run and the recalculation that follows use this date.
func ValuationDate(t time.Time, tz *time.Location) time.Time {
	if tz == nil {
		tz = time.UTC
	}
	local := t.In(tz)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tz)
}
