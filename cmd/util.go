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
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/treviwise/treviwise/common"
	"github.com/treviwise/treviwise/data"
	"github.com/treviwise/treviwise/data/database"
	"github.com/treviwise/treviwise/messenger"
	"github.com/treviwise/treviwise/observability/opentelemetry"
	"github.com/treviwise/treviwise/pipeline"
)

// services are the long lived collaborators shared by the commands
type services struct {
	cfg     *appConfig
	pool    *pgxpool.Pool
	market  *data.MarketDB
	reports *data.Reports
	fmp     *data.FMP
	events  *messenger.Publisher

	logCloser       io.Closer
	shutdownTracing func(context.Context) error
}

// setupServices loads configuration and connects to the database. Any failure
// is fatal: a command never starts a run with incomplete configuration.
func setupServices(ctx context.Context) *services {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	logCloser, err := common.SetupLogging(cfg.Log)
	if err != nil {
		log.Fatal().Err(err).Str("Output", cfg.Log.Output).Msg("could not setup logging")
	}
	log.Info().Str("Version", common.CurrentVersion.String()).Msg("initialized logging")

	shutdownTracing, err := opentelemetry.Setup(cfg.OTLP)
	if err != nil {
		log.Fatal().Err(err).Msg("could not setup tracing")
	}

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}

	fmp, err := data.NewFMP(cfg.FMP, &http.Client{})
	if err != nil {
		log.Fatal().Err(err).Msg("could not create market data client")
	}

	events, err := messenger.Connect(cfg.NATS)
	if err != nil {
		log.Fatal().Err(err).Msg("could not connect to event bus")
	}

	return &services{
		cfg:             cfg,
		pool:            pool,
		market:          data.NewMarketDB(pool),
		reports:         data.NewReports(pool),
		fmp:             fmp,
		events:          events,
		logCloser:       logCloser,
		shutdownTracing: shutdownTracing,
	}
}

func (s *services) pipeline() *pipeline.Pipeline {
	return pipeline.NewMarketData(s.cfg.Pipeline, s.market, s.fmp)
}

func (s *services) dividendImporter() *pipeline.DividendImporter {
	return pipeline.NewDividendImporter(s.market, s.fmp, s.market, s.cfg.Pipeline.FetchDeadline)
}

// announcingRunner publishes the outcome of every market data run it executes.
// Rejected overlapping runs are not announced.
type announcingRunner struct {
	p      *pipeline.Pipeline
	events *messenger.Publisher
}

func (r *announcingRunner) Run(ctx context.Context) (*pipeline.Summary, error) {
	summary, err := r.p.Run(ctx)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		return summary, err
	}
	if pubErr := r.events.PublishRunSummary(summary, err); pubErr != nil {
		log.Warn().Err(pubErr).Msg("market data run event not published")
	}
	return summary, err
}

func (s *services) runner() *announcingRunner {
	return &announcingRunner{p: s.pipeline(), events: s.events}
}

func (s *services) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if n := database.NumOpenTransactions(); n > 0 {
		log.Warn().Int("NumOpenTransactions", n).Msg("closing with open transactions")
		database.LogOpenTransactions()
	}
	s.events.Close()
	s.pool.Close()

	if err := s.shutdownTracing(ctx); err != nil {
		log.Error().Err(err).Msg("could not flush traces")
	}
	if err := s.logCloser.Close(); err != nil {
		log.Error().Err(err).Msg("could not close log output")
	}
}
