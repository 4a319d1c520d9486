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
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/treviwise/treviwise/common"
	"github.com/treviwise/treviwise/data"
	"github.com/treviwise/treviwise/pipeline"
)

const (
	portfolioSummaryKey = "portfolio-summary"
	netWorthKey         = "net-worth"
)

func init() {
	// amounts are emitted as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true
}

// MarketDataRunner triggers a full market data run
type MarketDataRunner interface {
	Run(ctx context.Context) (*pipeline.Summary, error)
}

// ViewRefresher recomputes the net worth view
type ViewRefresher interface {
	RefreshNetWorthView(ctx context.Context) error
}

// API holds the dependencies of the HTTP handlers
type API struct {
	Reports     *data.Reports
	Cache       *common.Cache
	Runner      MarketDataRunner
	Views       ViewRefresher
	Location    *time.Location
	Environment string
	Now         common.Clock
}

type HelloResponse struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Time     string `json:"time"`
}

type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (api *API) now() time.Time {
	if api.Now != nil {
		return api.Now()
	}
	return time.Now()
}

func (api *API) location() *time.Location {
	if api.Location != nil {
		return api.Location
	}
	return common.GetTimezone()
}

func (api *API) Hello(c *fiber.Ctx) error {
	return c.JSON(HelloResponse{
		Name:        common.ProgramName,
		Version:     common.CurrentVersion.String(),
		Environment: api.Environment,
	})
}

// Health checks database connectivity
func (api *API) Health(c *fiber.Ctx) error {
	now, _ := api.now().MarshalText()
	if err := api.Reports.Ping(c.UserContext()); err != nil {
		log.Warn().Err(err).Msg("health check could not reach database")
		return c.Status(fiber.StatusServiceUnavailable).JSON(HealthResponse{
			Status:   "unhealthy",
			Database: "disconnected",
			Time:     string(now),
		})
	}
	return c.JSON(HealthResponse{
		Status:   "healthy",
		Database: "connected",
		Time:     string(now),
	})
}

func internalError(c *fiber.Ctx, err error, msg string) error {
	log.Error().Stack().Err(err).Str("Path", c.Path()).Msg(msg)
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Status: "error",
		Error:  msg,
	})
}

// cached serves key from the report cache, calling build and storing its JSON
// encoding on a miss. Cache errors degrade to an uncached response.
func (api *API) cached(c *fiber.Ctx, key string, build func(ctx context.Context) (any, error)) error {
	ctx := c.UserContext()
	subLog := log.With().Str("CacheKey", key).Logger()

	if api.Cache != nil {
		body, ok, err := api.Cache.Get(ctx, key)
		if err != nil {
			subLog.Warn().Err(err).Msg("report cache read failed")
		}
		if ok {
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(body)
		}
	}

	val, err := build(ctx)
	if err != nil {
		return internalError(c, err, "could not build "+key)
	}

	body, err := json.Marshal(val)
	if err != nil {
		return internalError(c, err, "could not encode "+key)
	}

	if api.Cache != nil {
		if err := api.Cache.Set(ctx, key, body); err != nil {
			subLog.Warn().Err(err).Msg("report cache write failed")
		}
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(body)
}

// InvalidateReports drops the cached summary and net worth responses
func (api *API) InvalidateReports(ctx context.Context) {
	if api.Cache == nil {
		return
	}
	if err := api.Cache.Invalidate(ctx, portfolioSummaryKey, netWorthKey); err != nil {
		log.Warn().Err(err).Msg("could not invalidate report cache")
	}
}
