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

package messenger

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/treviwise/treviwise/pipeline"
)

const (
	DefaultSubject = "treviwise.events"

	EventMarketDataRun  = "market_data_run"
	EventDividendImport = "dividend_import"
)

type Config struct {
	Server      string
	Credentials string
	Subject     string
}

// jetStream is the subset of nats.JetStreamContext used to publish
type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Event is the envelope of every published message
type Event struct {
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
	Payload any       `json:"payload,omitempty"`
}

// Publisher sends run summaries to a JetStream subject. A Publisher created
// without a server is disabled and every publish is a no-op.
type Publisher struct {
	conn    *nats.Conn
	js      jetStream
	subject string
	now     func() time.Time
}

// Connect to the nats server
func Connect(cfg Config) (*Publisher, error) {
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}

	pub := &Publisher{
		subject: subject,
		now:     time.Now,
	}

	if cfg.Server == "" {
		log.Debug().Msg("nats server not configured; event publishing disabled")
		return pub, nil
	}

	opts := []nats.Option{nats.Name("treviwise")}
	if cfg.Credentials != "" {
		opts = append(opts, nats.UserCredentials(cfg.Credentials))
	}

	log.Info().Str("NATSServer", cfg.Server).Str("Credentials", cfg.Credentials).Msg("connecting to NATS server")
	conn, err := nats.Connect(cfg.Server, opts...)
	if err != nil {
		log.Error().Err(err).Msg("could not connect to NATS server")
		return nil, err
	}

	js, err := conn.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		log.Error().Err(err).Msg("could not create jetstream context")
		conn.Close()
		return nil, err
	}

	pub.conn = conn
	pub.js = js
	return pub, nil
}

// Enabled reports whether events leave the process
func (p *Publisher) Enabled() bool {
	return p != nil && p.js != nil
}

// PublishRunSummary announces the outcome of a market data run
func (p *Publisher) PublishRunSummary(summary *pipeline.Summary, runErr error) error {
	return p.publish(EventMarketDataRun, summary, runErr)
}

func (p *Publisher) PublishDividendSummary(summary *pipeline.DividendSummary, runErr error) error {
	return p.publish(EventDividendImport, summary, runErr)
}

func (p *Publisher) publish(eventType string, payload any, runErr error) error {
	if !p.Enabled() {
		return nil
	}

	event := Event{
		Type:    eventType,
		Time:    p.now(),
		Success: runErr == nil,
		Payload: payload,
	}
	if runErr != nil {
		event.Error = runErr.Error()
	}

	body, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("EventType", eventType).Msg("could not serialize event to JSON")
		return err
	}

	subject := p.subject + "." + eventType
	if _, err := p.js.Publish(subject, body); err != nil {
		log.Error().Err(err).Str("Subject", subject).Msg("could not publish event")
		return errors.Wrapf(err, "publish %s", subject)
	}

	log.Debug().Str("Subject", subject).Msg("published event")
	return nil
}

// Close drains pending messages and closes the connection
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		log.Warn().Err(err).Msg("could not drain NATS connection")
	}
}
