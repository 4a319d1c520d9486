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

package cmd

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/treviwise/treviwise/common"
	"github.com/treviwise/treviwise/data"
	"github.com/treviwise/treviwise/data/database"
	"github.com/treviwise/treviwise/messenger"
	"github.com/treviwise/treviwise/observability/opentelemetry"
	"github.com/treviwise/treviwise/pipeline"
)

type serverConfig struct {
	Port        int
	CORSOrigins string
}

type scheduleConfig struct {
	MarketData  string
	Dividends   string
	RefreshView string
}

// appConfig is every setting the commands need, resolved from viper once so
// nothing below cmd reads configuration on its own
type appConfig struct {
	Environment string
	Log         common.LogConfig
	Database    database.Config
	FMP         data.FMPConfig
	Pipeline    pipeline.Config
	Cache       common.CacheConfig
	OTLP        opentelemetry.Config
	NATS        messenger.Config
	Server      serverConfig
	Schedule    scheduleConfig
}

// loadConfig converts viper state into explicit configuration. Missing
// credentials are reported as common.ErrMissingConfig.
func loadConfig() (*appConfig, error) {
	cfg := &appConfig{
		Environment: viper.GetString("environment"),
		Log: common.LogConfig{
			Level:        viper.GetString("log.level"),
			Output:       viper.GetString("log.output"),
			Pretty:       viper.GetBool("log.pretty"),
			ReportCaller: viper.GetBool("log.report_caller"),
		},
		Cache: common.CacheConfig{
			LocalSize: viper.GetInt("cache.local_size"),
			Redis:     viper.GetBool("cache.redis"),
			RedisURL:  viper.GetString("cache.redis_url"),
			TTL:       viper.GetDuration("cache.ttl"),
		},
		OTLP: opentelemetry.Config{
			Endpoint: viper.GetString("otlp.endpoint"),
			HTTP:     viper.GetBool("otlp.http"),
			Headers:  viper.GetStringMapString("otlp.headers"),
		},
		NATS: messenger.Config{
			Server:      viper.GetString("nats.server"),
			Credentials: viper.GetString("nats.credentials"),
			Subject:     viper.GetString("nats.subject"),
		},
		Server: serverConfig{
			Port:        viper.GetInt("server.port"),
			CORSOrigins: viper.GetString("server.cors_origins"),
		},
		Schedule: scheduleConfig{
			MarketData:  viper.GetString("schedule.market_data"),
			Dividends:   viper.GetString("schedule.dividends"),
			RefreshView: viper.GetString("schedule.refresh_view"),
		},
	}

	dbURL := viper.GetString("database.url")
	if dbURL == "" {
		password := viper.GetString("database.password")
		if password == "" {
			return nil, errors.Wrap(common.ErrMissingConfig, "database.password (DB_PASSWORD) or database.url (DATABASE_URL)")
		}
		dbURL = database.BuildURL(
			viper.GetString("database.user"),
			password,
			viper.GetString("database.host"),
			viper.GetString("database.port"),
			viper.GetString("database.name"),
		)
	}
	cfg.Database = database.Config{
		URL:      dbURL,
		MaxConns: viper.GetInt32("database.max_conns"),
	}

	apiKey := viper.GetString("fmp.api_key")
	if apiKey == "" {
		return nil, errors.Wrap(common.ErrMissingConfig, "fmp.api_key (FMP_API_KEY)")
	}

	baseCurrency := strings.ToUpper(viper.GetString("market.base_currency"))
	cfg.FMP = data.FMPConfig{
		APIKey:         apiKey,
		BaseURL:        viper.GetString("fmp.base_url"),
		BaseCurrency:   baseCurrency,
		Timeout:        viper.GetDuration("fmp.timeout"),
		MaxConcurrency: viper.GetInt("fmp.max_concurrency"),
		PricePath:      viper.GetString("fmp.price_path"),
		ChangePath:     viper.GetString("fmp.change_path"),
		BidPath:        viper.GetString("fmp.bid_path"),
	}

	tz, err := common.LoadTimezone(viper.GetString("market.timezone"))
	if err != nil {
		return nil, errors.Wrap(err, "market.timezone")
	}

	cfg.Pipeline = pipeline.Config{
		BaseCurrency:  baseCurrency,
		Currencies:    currencyList(viper.GetStringSlice("market.currencies")),
		Location:      tz,
		FetchDeadline: viper.GetDuration("market.fetch_deadline"),
	}
	if cfg.Pipeline.FetchDeadline <= 0 {
		cfg.Pipeline.FetchDeadline = 2 * time.Minute
	}

	return cfg, nil
}

// currencyList accepts both repeated values and a single comma separated
// value as read from FX_CURRENCIES
func currencyList(raw []string) []string {
	seen := make(map[string]bool)
	currencies := make([]string, 0, len(raw))
	for _, item := range raw {
		for _, ccy := range strings.Split(item, ",") {
			ccy = strings.ToUpper(strings.TrimSpace(ccy))
			if ccy == "" || seen[ccy] {
				continue
			}
			seen[ccy] = true
			currencies = append(currencies, ccy)
		}
	}
	return currencies
}
