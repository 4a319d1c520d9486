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

package router

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/treviwise/treviwise/handler"
	"github.com/treviwise/treviwise/middleware"
)

// Config of the HTTP application
type Config struct {
	CORSOrigins string
}

// NewApp creates the fiber application with middleware and routes installed
func NewApp(api *handler.API, cfg Config) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "treviwise",
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	app.Use(recover.New())

	origins := cfg.CORSOrigins
	if origins == "" {
		origins = "http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "*",
		AllowMethods: "GET,POST,HEAD,OPTIONS",
	}))

	app.Use(middleware.NewLogger())

	SetupRoutes(app, api)
	return app
}

// SetupRoutes registers the reporting API
func SetupRoutes(app *fiber.App, api *handler.API) {
	app.Get("/", api.Hello)

	v := app.Group("/api")
	v.Get("/health", api.Health)

	v.Get("/portfolio/summary", api.PortfolioSummary)
	v.Get("/positions", api.Positions)
	v.Get("/assets", api.Assets)
	v.Get("/asset/:id/history", api.AssetHistory)
	v.Get("/dividends", api.Dividends)
	v.Get("/market-prices", api.MarketPrices)
	v.Get("/net-worth", api.NetWorth)

	v.Post("/refresh-data", api.RefreshData)
	v.Post("/market-data/run", api.RunMarketData)
}
