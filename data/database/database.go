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

package database

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/jackc/pgtype"
	shopspring "github.com/jackc/pgtype/ext/shopspring-numeric"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
)

// RunLockName keys the advisory lock shared by every market-data write transaction
const RunLockName = "market-data-run"

// PgxIface is satisfied by *pgxpool.Pool and by pgxmock connections
type PgxIface interface {
	Begin(context.Context) (pgx.Tx, error)
}

// Config holds connection parameters
type Config struct {
	URL      string
	MaxConns int32
}

var (
	ErrEmptyURL = errors.New("database url cannot be an empty string")
)

var (
	openTransactions   = make(map[string]string)
	openTransactionsMu sync.Mutex
)

// BuildURL composes a postgres connection string from its parts
func BuildURL(user, password, host, port, name string) string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%s/%s", user, password, host, port, name)
}

// Connect creates a connection pool and verifies connectivity. NUMERIC columns are decoded
// into shopspring decimals on every pooled connection.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, ErrEmptyURL
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not parse database url")
		return nil, err
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		conn.ConnInfo().RegisterDataType(pgtype.DataType{
			Value: &shopspring.Numeric{},
			Name:  "numeric",
			OID:   pgtype.NumericOID,
		})
		return nil
	}

	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not connect to pool")
		return nil, err
	}

	if err = pool.Ping(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not ping database server")
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// Begin starts a transaction that is tracked until it is committed or rolled back
func Begin(ctx context.Context, db PgxIface) (pgx.Tx, error) {
	trx, err := db.Begin(ctx)
	if err != nil {
		return nil, err
	}

	_, file, lineno, ok := runtime.Caller(1)
	return newTrackedTx(trx, fmt.Sprintf("[%v] %s:%d", ok, file, lineno)), nil
}

// WithTx runs fn in a transaction. The transaction is committed when fn returns nil and rolled
// back on every other exit path, including a panic inside fn.
func WithTx(ctx context.Context, db PgxIface, fn func(pgx.Tx) error) (err error) {
	trx, err := db.Begin(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not begin transaction")
		return err
	}

	_, file, lineno, ok := runtime.Caller(1)
	trx = newTrackedTx(trx, fmt.Sprintf("[%v] %s:%d", ok, file, lineno))

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := trx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Error().Stack().Err(rbErr).Msg("could not rollback transaction")
		}
	}()

	if err = fn(trx); err != nil {
		return err
	}

	if err = trx.Commit(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not commit transaction")
		return err
	}
	committed = true
	return nil
}

// LockRun blocks until the transaction holds the market-data advisory lock. The lock is released
// when the transaction ends.
func LockRun(ctx context.Context, trx pgx.Tx) error {
	if _, err := trx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", RunLockName); err != nil {
		log.Error().Stack().Err(err).Msg("could not acquire market data run lock")
		return err
	}
	return nil
}

// LogOpenTransactions writes an INFO log for each open transaction
func LogOpenTransactions() {
	openTransactionsMu.Lock()
	defer openTransactionsMu.Unlock()

	for k, v := range openTransactions {
		log.Info().Str("TrxID", k).Str("Caller", v).Msg("open transaction")
	}
}

// NumOpenTransactions returns the count of transactions that have not ended
func NumOpenTransactions() int {
	openTransactionsMu.Lock()
	defer openTransactionsMu.Unlock()
	return len(openTransactions)
}
