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

package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/treviwise/treviwise/data"
	"github.com/treviwise/treviwise/pipeline"
)

type NetWorthResponse struct {
	TotalNetWorth decimal.Decimal        `json:"total_net_worth"`
	Summary       []data.AssetClassValue `json:"summary"`
	Detail        []data.NetWorthItem    `json:"detail"`
}

type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type RunResponse struct {
	Status  string            `json:"status"`
	Error   string            `json:"error,omitempty"`
	Summary *pipeline.Summary `json:"summary,omitempty"`
}

// NetWorth refreshes the net worth view and reports it. The response is cached
// until the next refresh or market data run.
func (api *API) NetWorth(c *fiber.Ctx) error {
	return api.cached(c, netWorthKey, func(ctx context.Context) (any, error) {
		if err := api.Views.RefreshNetWorthView(ctx); err != nil {
			return nil, err
		}
		summary, err := api.Reports.AssetClasses(ctx)
		if err != nil {
			return nil, err
		}
		detail, err := api.Reports.NetWorthDetail(ctx)
		if err != nil {
			return nil, err
		}

		total := decimal.Zero
		for _, item := range detail {
			if item.ValueUSD.Valid {
				total = total.Add(item.ValueUSD.Decimal)
			}
		}

		return NetWorthResponse{
			TotalNetWorth: total,
			Summary:       summary,
			Detail:        detail,
		}, nil
	})
}

// RefreshData recomputes the net worth view without fetching market data
func (api *API) RefreshData(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if err := api.Views.RefreshNetWorthView(ctx); err != nil {
		return internalError(c, err, "could not refresh net worth view")
	}
	api.InvalidateReports(ctx)

	return c.JSON(StatusResponse{
		Status:  "success",
		Message: "net worth view refreshed",
	})
}

// RunMarketData executes a market data run and returns its summary
func (api *API) RunMarketData(c *fiber.Ctx) error {
	ctx := c.UserContext()
	summary, err := api.Runner.Run(ctx)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		return c.Status(fiber.StatusConflict).JSON(RunResponse{
			Status: "busy",
			Error:  err.Error(),
		})
	case err != nil:
		log.Error().Stack().Err(err).Msg("market data run requested over HTTP failed")
		return c.Status(fiber.StatusInternalServerError).JSON(RunResponse{
			Status:  "error",
			Error:   err.Error(),
			Summary: summary,
		})
	}

	api.InvalidateReports(ctx)
	return c.JSON(RunResponse{
		Status:  "success",
		Summary: summary,
	})
}
