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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(dividendsCmd)
}

var dividendsCmd = &cobra.Command{
	Use:   "dividends",
	Short: "Import dividend histories for every held symbol",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc := setupServices(ctx)
		defer svc.Close()

		summary, err := svc.dividendImporter().Run(ctx)
		if pubErr := svc.events.PublishDividendSummary(summary, err); pubErr != nil {
			log.Warn().Err(pubErr).Msg("dividend import event not published")
		}
		if err != nil {
			log.Fatal().Stack().Err(err).Msg("dividend import failed")
		}
		log.Info().EmbedObject(summary).Msg("dividend import complete")
	},
}
