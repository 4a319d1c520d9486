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
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/treviwise/treviwise/common"
	"github.com/treviwise/treviwise/data"
	"github.com/treviwise/treviwise/observability/opentelemetry"
)

type HeldSymbolResolver interface {
	HeldSymbols(ctx context.Context) ([]string, error)
}

type DividendFetcher interface {
	FetchDividends(ctx context.Context, symbols []string) data.DividendBatch
}

type DividendStore interface {
	UpsertDividends(ctx context.Context, dividends []data.Dividend) (int, error)
}

// DividendImporter collects dividend histories for every held symbol and
// upserts them keyed on (symbol, ex-dividend date).
type DividendImporter struct {
	resolver HeldSymbolResolver
	fetcher  DividendFetcher
	store    DividendStore
	deadline time.Duration
	now      common.Clock
	lock     sync.Mutex
}

func NewDividendImporter(resolver HeldSymbolResolver, fetcher DividendFetcher, store DividendStore, deadline time.Duration) *DividendImporter {
	return &DividendImporter{
		resolver: resolver,
		fetcher:  fetcher,
		store:    store,
		deadline: deadline,
		now:      time.Now,
	}
}

func (d *DividendImporter) Run(ctx context.Context) (*DividendSummary, error) {
	if !d.lock.TryLock() {
		return nil, ErrRunInProgress
	}
	defer d.lock.Unlock()

	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "pipeline.DividendImporter.Run")
	defer span.End()

	start := d.now()
	summary := &DividendSummary{
		RunID:  uuid.New().String(),
		Misses: make(map[data.FetchErrorKind]int),
	}
	subLog := log.With().Str("RunID", summary.RunID).Logger()

	symbols, err := d.resolver.HeldSymbols(ctx)
	if err != nil {
		opentelemetry.Fail(span, err, "could not resolve held symbols")
		subLog.Error().Stack().Err(err).Msg("could not resolve held symbols")
		return summary, err
	}
	summary.SymbolsAttempted = len(symbols)
	subLog.Info().Int("NumSymbols", len(symbols)).Msg("fetching dividends")

	if len(symbols) == 0 {
		subLog.Warn().Msg("no held symbols; nothing to import")
		summary.Duration = d.now().Sub(start)
		return summary, nil
	}

	fetchCtx := ctx
	if d.deadline > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, d.deadline)
		defer cancel()
	}

	batch := d.fetcher.FetchDividends(fetchCtx, symbols)
	summary.HistoriesObtained = len(batch.Items)
	summary.Misses = batch.MissesByKind()

	dividends := data.FlattenDividends(batch)
	summary.RecordsCollected = len(dividends)

	if len(dividends) == 0 {
		subLog.Warn().Msg("no dividend data collected")
		summary.Duration = d.now().Sub(start)
		return summary, nil
	}

	subLog.Info().Int("NumRecords", len(dividends)).Msg("collected dividend records")
	if summary.RecordsStored, err = d.store.UpsertDividends(ctx, dividends); err != nil {
		opentelemetry.Fail(span, err, "could not store dividends")
		summary.Duration = d.now().Sub(start)
		return summary, err
	}

	summary.Duration = d.now().Sub(start)
	subLog.Info().EmbedObject(summary).Msg("dividend import completed")
	return summary, nil
}
