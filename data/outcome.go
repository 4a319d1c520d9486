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

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// FetchErrorKind classifies why a single upstream retrieval produced no value.
type FetchErrorKind string

const (
	FetchTimeout   FetchErrorKind = "timeout"
	FetchNetwork   FetchErrorKind = "network"
	FetchStatus    FetchErrorKind = "status"
	FetchMalformed FetchErrorKind = "malformed"
	FetchCanceled  FetchErrorKind = "canceled"
)

// FetchError records a per-item miss. It is carried as a value in a batch and
// never aborts the remaining items.
type FetchError struct {
	Key        string
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchStatus {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Key, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Key, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// classifyTransportError maps an error returned by the http client to a kind
func classifyTransportError(key string, err error) *FetchError {
	kind := FetchNetwork

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		kind = FetchTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = FetchTimeout
	case errors.Is(err, context.Canceled):
		kind = FetchCanceled
	}

	return &FetchError{Key: key, Kind: kind, Err: err}
}

// Outcome is the tagged result of one retrieval: either Value is set and Err
// is nil, or Err describes the miss.
type Outcome[T any] struct {
	Key   string
	Value T
	Err   *FetchError
}

func (o Outcome[T]) OK() bool {
	return o.Err == nil
}

// Partition splits outcomes into the success values and the misses, keeping
// input order within each partition.
func Partition[T any](outcomes []Outcome[T]) ([]T, []*FetchError) {
	values := make([]T, 0, len(outcomes))
	misses := make([]*FetchError, 0)
	for _, o := range outcomes {
		if o.OK() {
			values = append(values, o.Value)
		} else {
			misses = append(misses, o.Err)
		}
	}
	return values, misses
}

// Batch is the joined result of a concurrent fetch.
type Batch[T any] struct {
	Items     []T
	Misses    []*FetchError
	Attempted int
}

type (
	PriceBatch    = Batch[SecurityPrice]
	RateBatch     = Batch[ExchangeRate]
	DividendBatch = Batch[[]Dividend]
)

func newBatch[T any](outcomes []Outcome[T]) Batch[T] {
	items, misses := Partition(outcomes)
	return Batch[T]{
		Items:     items,
		Misses:    misses,
		Attempted: len(outcomes),
	}
}

// MissesByKind counts misses per kind.
func (b Batch[T]) MissesByKind() map[FetchErrorKind]int {
	counts := make(map[FetchErrorKind]int)
	for _, m := range b.Misses {
		counts[m.Kind]++
	}
	return counts
}

// Unreachable reports whether every attempted item failed at the network
// layer, which means the upstream could not be reached at all.
func (b Batch[T]) Unreachable() bool {
	if b.Attempted == 0 || len(b.Items) > 0 || len(b.Misses) != b.Attempted {
		return false
	}
	for _, m := range b.Misses {
		if m.Kind != FetchNetwork {
			return false
		}
	}
	return true
}
