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
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/treviwise/treviwise/common"
	"github.com/treviwise/treviwise/observability/opentelemetry"
)

const (
	DefaultFMPBaseURL     = "https://financialmodelingprep.com/api/v3"
	DefaultPricePath      = "$[0].price"
	DefaultChangePath     = "$[0].changesPercentage"
	DefaultBidPath        = "$[0].bid"
	DefaultBaseCurrency   = "USD"
	DefaultFetchTimeout   = 10 * time.Second
	DefaultMaxConcurrency = 10
)

// FMPConfig configures the Financial Modeling Prep client. Paths are JSONPath
// expressions evaluated against the decoded response body.
type FMPConfig struct {
	APIKey         string
	BaseURL        string
	BaseCurrency   string
	Timeout        time.Duration
	MaxConcurrency int
	PricePath      string
	ChangePath     string
	BidPath        string
}

// FMP retrieves quotes, exchange rates and dividend histories. Every request
// is independent; a failure for one key is returned as a miss in the batch.
type FMP struct {
	cfg    FMPConfig
	client *http.Client
}

type fmpDividendHistory struct {
	Symbol     string        `json:"symbol"`
	Historical []fmpDividend `json:"historical"`
}

type fmpDividend struct {
	Date            string           `json:"date"`
	Dividend        *decimal.Decimal `json:"dividend"`
	RecordDate      string           `json:"recordDate"`
	PaymentDate     string           `json:"paymentDate"`
	DeclarationDate string           `json:"declarationDate"`
}

type indexedOutcome[T any] struct {
	idx     int
	outcome Outcome[T]
}

// NewFMP creates a new client. A nil http client uses a fresh one.
func NewFMP(cfg FMPConfig, client *http.Client) (*FMP, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultFMPBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.BaseCurrency == "" {
		cfg.BaseCurrency = DefaultBaseCurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.PricePath == "" {
		cfg.PricePath = DefaultPricePath
	}
	if cfg.ChangePath == "" {
		cfg.ChangePath = DefaultChangePath
	}
	if cfg.BidPath == "" {
		cfg.BidPath = DefaultBidPath
	}
	if client == nil {
		client = &http.Client{}
	}

	return &FMP{
		cfg:    cfg,
		client: client,
	}, nil
}

// FetchPrices retrieves one quote per symbol. The returned batch holds only
// well-formed prices, all dated asOf in the base currency.
func (f *FMP) FetchPrices(ctx context.Context, symbols []string, asOf time.Time) PriceBatch {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "fmp.FetchPrices")
	defer span.End()

	outcomes := fetchAll(ctx, f.cfg.MaxConcurrency, symbols, func(reqCtx context.Context, symbol string) (SecurityPrice, *FetchError) {
		return f.fetchPrice(reqCtx, symbol, asOf)
	})
	batch := newBatch(outcomes)

	span.SetAttributes(attribute.Int("Attempted", batch.Attempted), attribute.Int("Obtained", len(batch.Items)))
	logMisses("security price", batch.Misses)
	log.Info().Int("Obtained", len(batch.Items)).Int("Attempted", batch.Attempted).Msg("fetched security prices")

	return batch
}

// FetchExchangeRates retrieves the bid rate from base to each currency.
func (f *FMP) FetchExchangeRates(ctx context.Context, base string, currencies []string, asOf time.Time) RateBatch {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "fmp.FetchExchangeRates")
	defer span.End()

	outcomes := fetchAll(ctx, f.cfg.MaxConcurrency, currencies, func(reqCtx context.Context, currency string) (ExchangeRate, *FetchError) {
		return f.fetchRate(reqCtx, base, currency, asOf)
	})
	batch := newBatch(outcomes)

	span.SetAttributes(attribute.Int("Attempted", batch.Attempted), attribute.Int("Obtained", len(batch.Items)))
	logMisses("exchange rate", batch.Misses)
	log.Info().Str("Base", base).Int("Obtained", len(batch.Items)).Int("Attempted", batch.Attempted).Msg("fetched exchange rates")

	return batch
}

// FetchDividends retrieves the dividend history of each symbol. A symbol with
// no history is a success with an empty slice.
func (f *FMP) FetchDividends(ctx context.Context, symbols []string) DividendBatch {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "fmp.FetchDividends")
	defer span.End()

	outcomes := fetchAll(ctx, f.cfg.MaxConcurrency, symbols, f.fetchDividends)
	batch := newBatch(outcomes)

	span.SetAttributes(attribute.Int("Attempted", batch.Attempted), attribute.Int("Obtained", len(batch.Items)))
	logMisses("dividend history", batch.Misses)
	log.Info().Int("Obtained", len(batch.Items)).Int("Attempted", batch.Attempted).Msg("fetched dividend histories")

	return batch
}

// FlattenDividends joins the per-symbol histories of a batch.
func FlattenDividends(batch DividendBatch) []Dividend {
	all := make([]Dividend, 0)
	for _, history := range batch.Items {
		all = append(all, history...)
	}
	return all
}

func (f *FMP) fetchPrice(ctx context.Context, symbol string, asOf time.Time) (SecurityPrice, *FetchError) {
	doc, ferr := f.getDocument(ctx, symbol, "/quote-short/"+url.PathEscape(symbol))
	if ferr != nil {
		return SecurityPrice{}, ferr
	}

	price, err := extractDecimal(doc, f.cfg.PricePath)
	if err != nil {
		return SecurityPrice{}, &FetchError{Key: symbol, Kind: FetchMalformed, Err: err}
	}
	if price.IsNegative() {
		return SecurityPrice{}, &FetchError{Key: symbol, Kind: FetchMalformed, Err: ErrNegativePrice}
	}

	sp := SecurityPrice{
		Symbol:   symbol,
		Price:    price,
		Currency: f.cfg.BaseCurrency,
		Date:     asOf,
	}

	// change percent is optional
	if change, err := extractDecimal(doc, f.cfg.ChangePath); err == nil {
		sp.ChangePercent = &change
	}

	return sp, nil
}

func (f *FMP) fetchRate(ctx context.Context, base, currency string, asOf time.Time) (ExchangeRate, *FetchError) {
	pair := base + currency
	doc, ferr := f.getDocument(ctx, pair, "/fx/"+url.PathEscape(pair))
	if ferr != nil {
		return ExchangeRate{}, ferr
	}

	rate, err := extractDecimal(doc, f.cfg.BidPath)
	if err != nil {
		return ExchangeRate{}, &FetchError{Key: pair, Kind: FetchMalformed, Err: err}
	}
	if !rate.IsPositive() {
		return ExchangeRate{}, &FetchError{Key: pair, Kind: FetchMalformed, Err: ErrNonPositiveRate}
	}

	return ExchangeRate{
		From: base,
		To:   currency,
		Rate: rate,
		Date: asOf,
	}, nil
}

func (f *FMP) fetchDividends(ctx context.Context, symbol string) ([]Dividend, *FetchError) {
	body, ferr := f.get(ctx, symbol, "/historical-price-full/stock_dividend/"+url.PathEscape(symbol))
	if ferr != nil {
		return nil, ferr
	}

	history := fmpDividendHistory{}
	if err := json.Unmarshal(body, &history); err != nil {
		return nil, &FetchError{Key: symbol, Kind: FetchMalformed, Err: fmt.Errorf("%w: %s", ErrMalformedResponse, err)}
	}

	dividends := make([]Dividend, 0, len(history.Historical))
	for _, raw := range history.Historical {
		div := Dividend{
			Symbol:          symbol,
			RecordDate:      parseOptionalDate(raw.RecordDate),
			PaymentDate:     parseOptionalDate(raw.PaymentDate),
			DeclarationDate: parseOptionalDate(raw.DeclarationDate),
			Currency:        f.cfg.BaseCurrency,
		}
		if exDate := parseOptionalDate(raw.Date); exDate != nil {
			div.ExDate = *exDate
		}
		if raw.Dividend != nil {
			div.Amount = *raw.Dividend
		}
		dividends = append(dividends, div)
	}

	return dividends, nil
}

// get issues one GET bounded by the configured timeout and returns the body of
// a 200 response.
func (f *FMP) get(ctx context.Context, key, path string) ([]byte, *FetchError) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s%s?apikey=%s", f.cfg.BaseURL, path, url.QueryEscape(f.cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &FetchError{Key: key, Kind: FetchNetwork, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Key: key, Kind: FetchStatus, StatusCode: resp.StatusCode, Err: ErrUnexpectedStatus}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(key, err)
	}

	return body, nil
}

func (f *FMP) getDocument(ctx context.Context, key, path string) (any, *FetchError) {
	body, ferr := f.get(ctx, key, path)
	if ferr != nil {
		return nil, ferr
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, &FetchError{Key: key, Kind: FetchMalformed, Err: fmt.Errorf("%w: %s", ErrMalformedResponse, err)}
	}

	return doc, nil
}

// fetchAll runs fetch for every key with at most maxConcurrency requests in
// flight and joins the tagged outcomes in key order. Once ctx is done no
// further key is dispatched and those keys become canceled misses. Requests
// already dispatched run to completion, bounded by their own timeout.
func fetchAll[T any](ctx context.Context, maxConcurrency int, keys []string, fetch func(context.Context, string) (T, *FetchError)) []Outcome[T] {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	outcomes := make([]Outcome[T], len(keys))
	received := make([]bool, len(keys))
	results := make(chan indexedOutcome[T], len(keys))
	sem := semaphore.NewWeighted(int64(maxConcurrency))

	// requests are detached from the stage deadline but keep the span
	reqCtx := trace.ContextWithSpan(context.Background(), trace.SpanFromContext(ctx))

	dispatched := 0
	for idx, key := range keys {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		dispatched++
		go func(idx int, key string) {
			defer sem.Release(1)
			val, ferr := fetch(reqCtx, key)
			results <- indexedOutcome[T]{
				idx:     idx,
				outcome: Outcome[T]{Key: key, Value: val, Err: ferr},
			}
		}(idx, key)
	}

	for ; dispatched > 0; dispatched-- {
		res := <-results
		outcomes[res.idx] = res.outcome
		received[res.idx] = true
	}

	for idx, key := range keys {
		if !received[idx] {
			outcomes[idx] = Outcome[T]{
				Key: key,
				Err: &FetchError{Key: key, Kind: FetchCanceled, Err: fmt.Errorf("%w: %s", ErrFetchAbandoned, ctx.Err())},
			}
		}
	}

	return outcomes
}

// extractDecimal evaluates a JSONPath against doc and converts the single
// result to a decimal.
func extractDecimal(doc any, path string) (decimal.Decimal, error) {
	val, err := jsonpath.Get(path, doc)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrMalformedResponse, err)
	}

	// jsonpath returns a list for wildcard expressions
	if list, ok := val.([]any); ok {
		if len(list) == 0 {
			return decimal.Zero, fmt.Errorf("%w: %s matched nothing", ErrMalformedResponse, path)
		}
		val = list[0]
	}

	switch v := val.(type) {
	case float64:
		return decimal.NewFromFloat(v), nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrMalformedResponse, err)
		}
		return d, nil
	case fmt.Stringer:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrMalformedResponse, err)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %s is not numeric (%v)", ErrMalformedResponse, path, val)
	}
}

func parseOptionalDate(val string) *time.Time {
	val = strings.TrimSpace(val)
	if val == "" {
		return nil
	}
	dt, err := time.Parse(common.DateFormat, val)
	if err != nil {
		log.Warn().Str("Date", val).Err(err).Msg("could not parse upstream date")
		return nil
	}
	return &dt
}

func logMisses(what string, misses []*FetchError) {
	for _, miss := range misses {
		evt := log.Warn().Str("Key", miss.Key).Str("Kind", string(miss.Kind)).Err(miss.Err)
		if miss.StatusCode != 0 {
			evt = evt.Int("HTTPResponseStatusCode", miss.StatusCode)
		}
		evt.Msgf("could not fetch %s", what)
	}
}
