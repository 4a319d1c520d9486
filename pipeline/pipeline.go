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
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/treviwise/treviwise/common"
	"github.com/treviwise/treviwise/data"
	"github.com/treviwise/treviwise/observability/opentelemetry"
)

type SymbolResolver interface {
	ActiveSymbols(ctx context.Context) ([]string, error)
}

type PriceFetcher interface {
	FetchPrices(ctx context.Context, symbols []string, asOf time.Time) data.PriceBatch
}

type RateFetcher interface {
	FetchExchangeRates(ctx context.Context, base string, currencies []string, asOf time.Time) data.RateBatch
}

type MarketStore interface {
	UpsertPrices(ctx context.Context, prices []data.SecurityPrice) (int, error)
	UpsertRates(ctx context.Context, rates []data.ExchangeRate) (int, error)
}

type PositionValuer interface {
	RecalculatePositions(ctx context.Context, asOf time.Time) (int64, error)
}

type ViewRefresher interface {
	RefreshNetWorthView(ctx context.Context) error
}

// Components are the collaborators of a run. data.MarketDB satisfies the
// database facing interfaces and data.FMP both fetchers.
type Components struct {
	Resolver  SymbolResolver
	Prices    PriceFetcher
	Rates     RateFetcher
	Store     MarketStore
	Valuer    PositionValuer
	Refresher ViewRefresher
}

type Config struct {
	BaseCurrency  string
	Currencies    []string
	Location      *time.Location
	FetchDeadline time.Duration
}

// Pipeline sequences a market data run. Only one run per Pipeline executes at
// a time; the database writes additionally serialize on an advisory lock.
type Pipeline struct {
	cfg  Config
	c    Components
	now  common.Clock
	lock sync.Mutex
}

// Preview is the fetched market data of a run that wrote nothing.
type Preview struct {
	Summary *Summary
	Prices  []data.SecurityPrice
	Rates   []data.ExchangeRate
}

type fetchResult struct {
	prices data.PriceBatch
	rates  data.RateBatch
}

func New(cfg Config, c Components) *Pipeline {
	if cfg.Location == nil {
		cfg.Location = common.GetTimezone()
	}
	if cfg.BaseCurrency == "" {
		cfg.BaseCurrency = data.DefaultBaseCurrency
	}
	return &Pipeline{
		cfg: cfg,
		c:   c,
		now: time.Now,
	}
}

// NewMarketData wires a pipeline to the postgres store and the FMP client.
func NewMarketData(cfg Config, db *data.MarketDB, fmp *data.FMP) *Pipeline {
	return New(cfg, Components{
		Resolver:  db,
		Prices:    fmp,
		Rates:     fmp,
		Store:     db,
		Valuer:    db,
		Refresher: db,
	})
}

// WithClock overrides the clock used to compute the valuation date.
func (p *Pipeline) WithClock(now common.Clock) *Pipeline {
	p.now = now
	return p
}

// Run executes one market data run. A nil error means the run reached Done;
// otherwise the error is a *StageError and the summary ends in Failed.
// ErrRunInProgress is returned without a summary when a run is executing.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	if !p.lock.TryLock() {
		log.Warn().Msg("market data run requested while another run is in progress")
		return nil, ErrRunInProgress
	}
	defer p.lock.Unlock()

	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "pipeline.Run")
	defer span.End()

	summary, subLog := p.begin()
	span.SetAttributes(attribute.String("RunID", summary.RunID))
	subLog.Info().Msg("starting market data update")

	symbols, err := p.resolve(ctx, summary, subLog)
	if err != nil {
		return p.fail(summary, subLog, err)
	}
	if len(symbols) == 0 {
		subLog.Warn().Msg("no active symbols held; nothing to update")
		return p.finish(summary, subLog), nil
	}

	fetched := p.fetch(ctx, summary, subLog, symbols)

	p.transition(summary, subLog, PersistingMarketData)
	if len(fetched.prices.Items) == 0 && len(fetched.rates.Items) == 0 {
		summary.PersistSkipped = true
		subLog.Warn().Msg("no prices or rates fetched; skipping persistence")
	} else {
		if summary.PricesWritten, err = p.c.Store.UpsertPrices(ctx, fetched.prices.Items); err != nil {
			return p.fail(summary, subLog, err)
		}
		if summary.RatesWritten, err = p.c.Store.UpsertRates(ctx, fetched.rates.Items); err != nil {
			return p.fail(summary, subLog, err)
		}
	}

	p.transition(summary, subLog, RecalculatingPositions)
	if summary.PositionsUpdated, err = p.c.Valuer.RecalculatePositions(ctx, summary.AsOf); err != nil {
		return p.fail(summary, subLog, err)
	}

	p.transition(summary, subLog, RefreshingView)
	if err = p.c.Refresher.RefreshNetWorthView(ctx); err != nil {
		return p.fail(summary, subLog, err)
	}

	return p.finish(summary, subLog), nil
}

// Preview resolves and fetches like Run but writes nothing. It does not take
// the run lock.
func (p *Pipeline) Preview(ctx context.Context) (*Preview, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "pipeline.Preview")
	defer span.End()

	summary, subLog := p.begin()
	subLog = subLog.With().Bool("DryRun", true).Logger()

	symbols, err := p.resolve(ctx, summary, subLog)
	if err != nil {
		_, err = p.fail(summary, subLog, err)
		return &Preview{Summary: summary}, err
	}

	preview := &Preview{Summary: summary}
	if len(symbols) > 0 {
		fetched := p.fetch(ctx, summary, subLog, symbols)
		preview.Prices = fetched.prices.Items
		preview.Rates = fetched.rates.Items
	}

	p.finish(summary, subLog)
	return preview, nil
}

func (p *Pipeline) begin() (*Summary, zerolog.Logger) {
	startedAt := p.now()
	asOf := common.ValuationDate(startedAt, p.cfg.Location)
	summary := newSummary(uuid.New().String(), asOf, startedAt)
	subLog := log.With().Str("RunID", summary.RunID).Str("AsOf", asOf.Format(common.DateFormat)).Logger()
	return summary, subLog
}

func (p *Pipeline) resolve(ctx context.Context, summary *Summary, subLog zerolog.Logger) ([]string, error) {
	p.transition(summary, subLog, ResolvingSymbols)
	symbols, err := p.c.Resolver.ActiveSymbols(ctx)
	if err != nil {
		return nil, err
	}
	summary.SymbolsAttempted = len(symbols)
	subLog.Info().Int("NumSymbols", len(symbols)).Strs("Symbols", symbols).Msg("resolved symbols to update")
	return symbols, nil
}

// fetch runs both fetchers concurrently under the fetch deadline. Individual
// misses never fail the stage.
func (p *Pipeline) fetch(ctx context.Context, summary *Summary, subLog zerolog.Logger, symbols []string) fetchResult {
	p.transition(summary, subLog, FetchingMarketData)

	fetchCtx := ctx
	if p.cfg.FetchDeadline > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.cfg.FetchDeadline)
		defer cancel()
	}

	var (
		result fetchResult
		wg     sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		result.prices = p.c.Prices.FetchPrices(fetchCtx, symbols, summary.AsOf)
	}()
	go func() {
		defer wg.Done()
		result.rates = p.c.Rates.FetchExchangeRates(fetchCtx, p.cfg.BaseCurrency, p.cfg.Currencies, summary.AsOf)
	}()
	wg.Wait()

	summary.PricesObtained = len(result.prices.Items)
	summary.RatesAttempted = result.rates.Attempted
	summary.RatesObtained = len(result.rates.Items)
	summary.addMisses(result.prices.Misses)
	summary.addMisses(result.rates.Misses)

	if result.prices.Unreachable() || result.rates.Unreachable() {
		summary.UpstreamUnreachable = true
		subLog.Warn().Msg("market data upstream unreachable; continuing with the data obtained")
	}

	subLog.Info().
		Int("PricesObtained", summary.PricesObtained).
		Int("SymbolsAttempted", summary.SymbolsAttempted).
		Int("RatesObtained", summary.RatesObtained).
		Int("RatesAttempted", summary.RatesAttempted).
		Msg("fetched market data")

	return result
}

func (p *Pipeline) transition(summary *Summary, subLog zerolog.Logger, next State) {
	subLog.Debug().Str("From", summary.State().String()).Str("To", next.String()).Msg("state transition")
	summary.States = append(summary.States, next)
}

func (p *Pipeline) finish(summary *Summary, subLog zerolog.Logger) *Summary {
	p.transition(summary, subLog, Done)
	summary.Duration = p.now().Sub(summary.StartedAt)
	subLog.Info().EmbedObject(summary).Msg("market data update completed")
	return summary
}

func (p *Pipeline) fail(summary *Summary, subLog zerolog.Logger, err error) (*Summary, error) {
	stage := summary.State()
	stageErr := errors.WithStack(&StageError{Stage: stage, Err: err})

	p.transition(summary, subLog, Failed)
	summary.Duration = p.now().Sub(summary.StartedAt)
	subLog.Error().Stack().Err(stageErr).EmbedObject(summary).Str("Stage", stage.String()).Msg("market data update failed")
	return summary, stageErr
}
