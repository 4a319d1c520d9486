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
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/treviwise/treviwise/common"
)

var Profile bool
var Trace bool

func init() {
	flags := rootCmd.PersistentFlags()

	viper.BindEnv("environment", "ENVIRONMENT")
	flags.String("environment", "development", "Deployment environment reported by the API")
	viper.BindPFlag("environment", flags.Lookup("environment"))

	// Database
	viper.BindEnv("database.url", "DATABASE_URL")
	flags.String("database-url", "", "PostgreSQL connection string; overrides the individual database settings")
	viper.BindPFlag("database.url", flags.Lookup("database-url"))

	viper.BindEnv("database.host", "DB_HOST")
	flags.String("database-host", "localhost", "PostgreSQL host")
	viper.BindPFlag("database.host", flags.Lookup("database-host"))

	viper.BindEnv("database.port", "DB_PORT")
	flags.String("database-port", "5432", "PostgreSQL port")
	viper.BindPFlag("database.port", flags.Lookup("database-port"))

	viper.BindEnv("database.name", "DB_NAME")
	flags.String("database-name", "treviwise", "PostgreSQL database name")
	viper.BindPFlag("database.name", flags.Lookup("database-name"))

	viper.BindEnv("database.user", "DB_USER")
	flags.String("database-user", "postgres", "PostgreSQL user")
	viper.BindPFlag("database.user", flags.Lookup("database-user"))

	viper.BindEnv("database.password", "DB_PASSWORD")
	flags.String("database-password", "", "PostgreSQL password")
	viper.BindPFlag("database.password", flags.Lookup("database-password"))

	viper.BindEnv("database.max_conns", "DB_MAX_CONNS")
	flags.Int32("database-max-conns", 10, "Maximum number of pooled database connections")
	viper.BindPFlag("database.max_conns", flags.Lookup("database-max-conns"))

	// Financial Modeling Prep
	viper.BindEnv("fmp.api_key", "FMP_API_KEY")
	flags.String("fmp-api-key", "", "Financial Modeling Prep API key")
	viper.BindPFlag("fmp.api_key", flags.Lookup("fmp-api-key"))

	viper.BindEnv("fmp.base_url", "FMP_BASE_URL")
	flags.String("fmp-base-url", "https://financialmodelingprep.com/api/v3", "Financial Modeling Prep API base URL")
	viper.BindPFlag("fmp.base_url", flags.Lookup("fmp-base-url"))

	viper.BindEnv("fmp.timeout", "FMP_TIMEOUT")
	flags.Duration("fmp-timeout", 10*time.Second, "Timeout of a single upstream request")
	viper.BindPFlag("fmp.timeout", flags.Lookup("fmp-timeout"))

	viper.BindEnv("fmp.max_concurrency", "FMP_MAX_CONCURRENCY")
	flags.Int("fmp-max-concurrency", 10, "Maximum number of concurrent upstream requests")
	viper.BindPFlag("fmp.max_concurrency", flags.Lookup("fmp-max-concurrency"))

	viper.SetDefault("fmp.price_path", "$[0].price")
	viper.SetDefault("fmp.change_path", "$[0].changesPercentage")
	viper.SetDefault("fmp.bid_path", "$[0].bid")

	// Market
	viper.BindEnv("market.base_currency", "BASE_CURRENCY")
	flags.String("base-currency", "USD", "Currency prices are quoted in")
	viper.BindPFlag("market.base_currency", flags.Lookup("base-currency"))

	viper.BindEnv("market.currencies", "FX_CURRENCIES")
	flags.StringSlice("fx-currencies", []string{"KWD", "EUR", "GBP"}, "Currencies to fetch exchange rates for")
	viper.BindPFlag("market.currencies", flags.Lookup("fx-currencies"))

	viper.BindEnv("market.timezone", "MARKET_TIMEZONE")
	flags.String("market-timezone", common.DefaultTimezone, "Timezone that defines the valuation date")
	viper.BindPFlag("market.timezone", flags.Lookup("market-timezone"))

	viper.BindEnv("market.fetch_deadline", "FETCH_DEADLINE")
	flags.Duration("fetch-deadline", 2*time.Minute, "Deadline for the whole fetch stage of a run")
	viper.BindPFlag("market.fetch_deadline", flags.Lookup("fetch-deadline"))

	// Logging configuration
	viper.BindEnv("log.level", "LOG_LEVEL")
	flags.String("log-level", "warning", "Logging level")
	viper.BindPFlag("log.level", flags.Lookup("log-level"))

	viper.BindEnv("log.report_caller", "LOG_REPORT_CALLER")
	flags.Bool("log-report-caller", false, "Log function name that called log statement")
	viper.BindPFlag("log.report_caller", flags.Lookup("log-report-caller"))

	viper.BindEnv("log.output", "LOG_OUTPUT")
	flags.String("log-output", "stdout", "Write logs to specified output one of: file path, `stdout`, or `stderr`")
	viper.BindPFlag("log.output", flags.Lookup("log-output"))

	viper.BindEnv("log.pretty", "LOG_PRETTY")
	flags.Bool("log-pretty", false, "Print logs in a human readable console format")
	viper.BindPFlag("log.pretty", flags.Lookup("log-pretty"))

	// Report cache
	viper.SetDefault("cache.local_size", 512)
	viper.SetDefault("cache.ttl", "300s")
	viper.BindEnv("cache.redis", "CACHE_REDIS")
	viper.BindEnv("cache.redis_url", "REDIS_URL")

	// Tracing
	viper.BindEnv("otlp.endpoint", "OTLP_ENDPOINT")
	flags.String("otlp-endpoint", "", "OTLP collector endpoint; tracing is disabled when empty")
	viper.BindPFlag("otlp.endpoint", flags.Lookup("otlp-endpoint"))

	viper.BindEnv("otlp.http", "OTLP_HTTP")
	flags.Bool("otlp-http", false, "Use HTTP instead of gRPC for the OTLP exporter")
	viper.BindPFlag("otlp.http", flags.Lookup("otlp-http"))

	// Event publishing
	viper.BindEnv("nats.server", "NATS_SERVER")
	flags.String("nats-server", "", "NATS server to publish run events to; publishing is disabled when empty")
	viper.BindPFlag("nats.server", flags.Lookup("nats-server"))

	viper.BindEnv("nats.credentials", "NATS_CREDENTIALS")
	viper.BindEnv("nats.subject", "NATS_SUBJECT")

	rootCmd.PersistentFlags().BoolVar(&Profile, "cpu-profile", false, "Run pprof and save in profile.out")
	rootCmd.PersistentFlags().BoolVar(&Trace, "trace", false, "Trace program execution and save in trace.out")
}

var rootCmd = &cobra.Command{
	Use:     "treviwise",
	Version: common.CurrentVersion.String(),
	Short:   "Treviwise keeps portfolio valuations current",
	Long: `Treviwise fetches end-of-day security prices, exchange rates and dividends,
stores them in PostgreSQL and revalues every open position against the new prices.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
