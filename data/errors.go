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

import "errors"

var (
	ErrMalformedResponse = errors.New("malformed upstream response")
	ErrUnexpectedStatus  = errors.New("upstream returned unexpected status code")
	ErrNegativePrice     = errors.New("price must not be negative")
	ErrNonPositiveRate   = errors.New("exchange rate must be positive")
	ErrMissingAPIKey     = errors.New("fmp api key is required")
	ErrFetchAbandoned    = errors.New("fetch not dispatched before deadline")
)
