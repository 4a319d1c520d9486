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
	rootCmd.AddCommand(refreshCmd)
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Recompute the net worth view",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc := setupServices(ctx)
		defer svc.Close()

		if err := svc.market.RefreshNetWorthView(ctx); err != nil {
			log.Fatal().Stack().Err(err).Msg("could not refresh net worth view")
		}
		log.Info().Msg("net worth view refreshed")
	},
}
