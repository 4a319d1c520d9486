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
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"runtime/trace"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/treviwise/treviwise/common"
	"github.com/treviwise/treviwise/handler"
	"github.com/treviwise/treviwise/router"
	"github.com/treviwise/treviwise/tradecron"
)

func init() {
	viper.BindEnv("server.port", "API_PORT")
	serveCmd.Flags().IntP("port", "p", 8000, "Port to run application server on")
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))

	viper.BindEnv("server.cors_origins", "CORS_ORIGINS")
	serveCmd.Flags().String("cors-origins", "http://localhost:3000", "Comma separated list of origins allowed to call the API")
	viper.BindPFlag("server.cors_origins", serveCmd.Flags().Lookup("cors-origins"))

	viper.BindEnv("schedule.market_data", "SCHEDULE_MARKET_DATA")
	serveCmd.Flags().String("schedule-market-data", "@close 30", "Market aware schedule of market data runs")
	viper.BindPFlag("schedule.market_data", serveCmd.Flags().Lookup("schedule-market-data"))

	viper.BindEnv("schedule.dividends", "SCHEDULE_DIVIDENDS")
	serveCmd.Flags().String("schedule-dividends", "0 6 * * 6", "Cron schedule of dividend imports")
	viper.BindPFlag("schedule.dividends", serveCmd.Flags().Lookup("schedule-dividends"))

	viper.BindEnv("schedule.refresh_view", "SCHEDULE_REFRESH_VIEW")
	serveCmd.Flags().String("schedule-refresh-view", "0 * * * *", "Cron schedule of net worth view refreshes")
	viper.BindPFlag("schedule.refresh_view", serveCmd.Flags().Lookup("schedule-refresh-view"))

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reporting API and scheduled market data jobs",
	Long: `Run the HTTP reporting API. Market data runs are scheduled relative to the
exchange calendar, dividend imports and net worth view refreshes on plain cron
schedules.`,
	Run: func(cmd *cobra.Command, args []string) {
		if Profile {
			f, err := os.Create("profile.out")
			if err != nil {
				log.Fatal().Err(err).Msg("could not create profile output file")
			}
			if err := pprof.StartCPUProfile(f); err != nil {
				log.Fatal().Err(err).Msg("could not start cpu profile")
			}
			defer pprof.StopCPUProfile()
		}

		if Trace {
			f, err := os.Create("trace.out")
			if err != nil {
				log.Fatal().Err(err).Msg("failed to create trace output file")
			}
			defer func() {
				if err := f.Close(); err != nil {
					log.Fatal().Err(err).Msg("failed to close trace file")
				}
			}()

			if err := trace.Start(f); err != nil {
				log.Fatal().Err(err).Msg("failed to start trace")
			}
			defer trace.Stop()
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		svc := setupServices(ctx)
		defer svc.Close()

		cache, err := common.NewCache(svc.cfg.Cache)
		if err != nil {
			log.Fatal().Err(err).Msg("could not create report cache")
		}

		tz := svc.cfg.Pipeline.Location
		runner := svc.runner()
		importer := svc.dividendImporter()

		api := &handler.API{
			Reports:     svc.reports,
			Cache:       cache,
			Runner:      runner,
			Views:       svc.market,
			Location:    tz,
			Environment: svc.cfg.Environment,
		}

		// market calendar; a missing holiday table only degrades to weekday scheduling
		status := tradecron.NewMarketStatus(tradecron.RegularHours, tz)
		loadHolidays := func() {
			since := common.ValuationDate(time.Now(), tz).AddDate(0, -1, 0)
			if err := status.LoadMarketHolidays(ctx, svc.pool, since); err != nil {
				log.Warn().Err(err).Msg("market holidays unavailable; scheduling on weekdays only")
			}
		}
		loadHolidays()

		marketSchedule, err := tradecron.New(svc.cfg.Schedule.MarketData, status)
		if err != nil {
			log.Fatal().Err(err).Str("Schedule", svc.cfg.Schedule.MarketData).Msg("invalid market data schedule")
		}

		go marketSchedule.Run(ctx, time.Now, func(ctx context.Context) {
			summary, err := runner.Run(ctx)
			if err != nil {
				log.Error().Stack().Err(err).Msg("scheduled market data run failed")
				return
			}
			log.Info().EmbedObject(summary).Msg("scheduled market data run complete")
			api.InvalidateReports(ctx)
		})

		scheduler := gocron.NewScheduler(tz)
		scheduler.SingletonModeAll()

		if _, err := scheduler.Cron(svc.cfg.Schedule.Dividends).Do(func() {
			summary, err := importer.Run(ctx)
			if pubErr := svc.events.PublishDividendSummary(summary, err); pubErr != nil {
				log.Warn().Err(pubErr).Msg("dividend import event not published")
			}
			if err != nil {
				log.Error().Stack().Err(err).Msg("scheduled dividend import failed")
				return
			}
			log.Info().EmbedObject(summary).Msg("scheduled dividend import complete")
		}); err != nil {
			log.Fatal().Err(err).Str("Schedule", svc.cfg.Schedule.Dividends).Msg("invalid dividend schedule")
		}

		if _, err := scheduler.Cron(svc.cfg.Schedule.RefreshView).Do(func() {
			if err := svc.market.RefreshNetWorthView(ctx); err != nil {
				log.Error().Stack().Err(err).Msg("scheduled net worth refresh failed")
				return
			}
			api.InvalidateReports(ctx)
		}); err != nil {
			log.Fatal().Err(err).Str("Schedule", svc.cfg.Schedule.RefreshView).Msg("invalid view refresh schedule")
		}

		if _, err := scheduler.Every(1).Day().At("05:00").Do(loadHolidays); err != nil {
			log.Fatal().Err(err).Msg("could not schedule market holiday reload")
		}

		scheduler.StartAsync()
		defer scheduler.Stop()

		app := router.NewApp(api, router.Config{CORSOrigins: svc.cfg.Server.CORSOrigins})

		// shutdown cleanly on interrupt
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-c
			fmt.Printf("Received signal: '%s'; shutting down...\n", sig.String())
			cancel()
			if err := app.Shutdown(); err != nil {
				log.Error().Err(err).Msg("could not shutdown http server")
			}
		}()

		log.Info().Int("Port", svc.cfg.Server.Port).Str("MarketDataSchedule", svc.cfg.Schedule.MarketData).Msg("starting server")
		if err := app.Listen(fmt.Sprintf(":%d", svc.cfg.Server.Port)); err != nil {
			log.Fatal().Err(err).Msg("http server failed")
		}
	},
}
