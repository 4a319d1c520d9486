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
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/treviwise/treviwise/data"
)

var DryRun bool

func init() {
	updateCmd.Flags().BoolVar(&DryRun, "dry-run", false, "Fetch market data and print the projected revaluation without writing anything")
	rootCmd.AddCommand(updateCmd)
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Fetch today's market data and revalue open positions",
	Long: `Run the market data pipeline once: resolve active symbols, fetch prices and
exchange rates, store them, recalculate position valuations and refresh the net
worth view. A portfolio summary is printed when the run completes.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc := setupServices(ctx)
		defer svc.Close()

		if DryRun {
			preview, err := svc.pipeline().Preview(ctx)
			if err != nil {
				log.Fatal().Stack().Err(err).Msg("dry run failed")
			}
			log.Info().EmbedObject(preview.Summary).Msg("dry run fetched market data")
			printRunSummary(os.Stdout, preview.Summary)

			positions, err := svc.reports.Positions(ctx)
			if err != nil {
				log.Fatal().Stack().Err(err).Msg("could not load positions")
			}
			printProjection(os.Stdout, positions, data.RevaluePositions(positions, preview.Prices))
			return
		}

		summary, err := svc.runner().Run(ctx)
		if err != nil {
			if summary != nil {
				log.Error().EmbedObject(summary).Msg("market data run failed")
				printRunSummary(os.Stderr, summary)
			}
			log.Fatal().Stack().Err(err).Msg("market data run failed")
		}
		log.Info().EmbedObject(summary).Msg("market data run complete")
		printRunSummary(os.Stdout, summary)

		positions, err := svc.reports.Positions(ctx)
		if err != nil {
			log.Fatal().Stack().Err(err).Msg("could not load positions")
		}
		printPortfolioSummary(os.Stdout, positions, svc.cfg.Pipeline.BaseCurrency)
	},
}
