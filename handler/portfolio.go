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
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/treviwise/treviwise/common"
	"github.com/treviwise/treviwise/data"
)

const (
	defaultDividendLimit = 20
	maxDividendLimit     = 500
	defaultHistoryDays   = 90
)

type PortfolioSummaryResponse struct {
	Totals       data.PortfolioTotals   `json:"totals"`
	Accounts     []data.AccountValue    `json:"accounts"`
	AssetClasses []data.AssetClassValue `json:"asset_classes"`
}

type AssetHistoryResponse struct {
	AssetID int64                    `json:"asset_id"`
	Days    int                      `json:"days"`
	History []data.AssetHistoryPoint `json:"history"`
}

// positiveQueryInt parses an optional positive integer query parameter
func positiveQueryInt(c *fiber.Ctx, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		log.Warn().Str("Param", name).Str("Value", raw).Str("Path", c.Path()).Msg("invalid query parameter")
		return 0, fiber.ErrBadRequest
	}
	return val, nil
}

// PortfolioSummary returns totals plus the per-account and per-asset-class breakdown
func (api *API) PortfolioSummary(c *fiber.Ctx) error {
	return api.cached(c, portfolioSummaryKey, func(ctx context.Context) (any, error) {
		totals, err := api.Reports.PortfolioTotals(ctx)
		if err != nil {
			return nil, err
		}
		accounts, err := api.Reports.Accounts(ctx)
		if err != nil {
			return nil, err
		}
		classes, err := api.Reports.AssetClasses(ctx)
		if err != nil {
			return nil, err
		}
		return PortfolioSummaryResponse{
			Totals:       totals,
			Accounts:     accounts,
			AssetClasses: classes,
		}, nil
	})
}

func (api *API) Positions(c *fiber.Ctx) error {
	positions, err := api.Reports.Positions(c.UserContext())
	if err != nil {
		return internalError(c, err, "could not load positions")
	}
	return c.JSON(positions)
}

func (api *API) Assets(c *fiber.Ctx) error {
	assets, err := api.Reports.Assets(c.UserContext())
	if err != nil {
		return internalError(c, err, "could not load assets")
	}
	return c.JSON(assets)
}

// Dividends lists dividends with an ex-date in the last year, newest first
func (api *API) Dividends(c *fiber.Ctx) error {
	limit, err := positiveQueryInt(c, "limit", defaultDividendLimit)
	if err != nil {
		return err
	}
	if limit > maxDividendLimit {
		limit = maxDividendLimit
	}

	since := common.ValuationDate(api.now(), api.location()).AddDate(-1, 0, 0)
	dividends, err := api.Reports.RecentDividends(c.UserContext(), since, limit)
	if err != nil {
		return internalError(c, err, "could not load dividends")
	}
	return c.JSON(dividends)
}

// MarketPrices lists the prices stored for today's valuation date
func (api *API) MarketPrices(c *fiber.Ctx) error {
	asOf := common.ValuationDate(api.now(), api.location())
	prices, err := api.Reports.MarketPrices(c.UserContext(), asOf)
	if err != nil {
		return internalError(c, err, "could not load market prices")
	}
	return c.JSON(prices)
}

func (api *API) AssetHistory(c *fiber.Ctx) error {
	assetID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		log.Warn().Str("AssetID", c.Params("id")).Msg("asset id is not an integer")
		return fiber.ErrBadRequest
	}

	days, err := positiveQueryInt(c, "days", defaultHistoryDays)
	if err != nil {
		return err
	}

	since := common.ValuationDate(api.now(), api.location()).AddDate(0, 0, -days)
	history, err := api.Reports.AssetHistory(c.UserContext(), assetID, since)
	if err != nil {
		return internalError(c, err, "could not load asset history")
	}

	return c.JSON(AssetHistoryResponse{
		AssetID: assetID,
		Days:    days,
		History: history,
	})
}
