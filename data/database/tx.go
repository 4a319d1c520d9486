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

// Wrapper around a pgx transaction to help debug if transactions are leaking

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnsupported = errors.New("unsupported function")
)

type trackedTx struct {
	pgx.Tx
	id string
}

func newTrackedTx(trx pgx.Tx, caller string) *trackedTx {
	id := uuid.New().String()

	openTransactionsMu.Lock()
	openTransactions[id] = caller
	openTransactionsMu.Unlock()

	return &trackedTx{
		Tx: trx,
		id: id,
	}
}

func (t *trackedTx) forget() {
	openTransactionsMu.Lock()
	delete(openTransactions, t.id)
	openTransactionsMu.Unlock()
}

// Begin is not supported; nested transactions would escape tracking
func (t *trackedTx) Begin(ctx context.Context) (pgx.Tx, error) {
	log.Error().Stack().Str("TrxID", t.id).Msg("sub-transactions not supported")
	return nil, ErrUnsupported
}

// BeginFunc is not supported; nested transactions would escape tracking
func (t *trackedTx) BeginFunc(ctx context.Context, f func(pgx.Tx) error) error {
	log.Error().Stack().Str("TrxID", t.id).Msg("sub-transactions not supported")
	return ErrUnsupported
}

// Commit commits the underlying transaction and stops tracking it
func (t *trackedTx) Commit(ctx context.Context) error {
	t.forget()
	return t.Tx.Commit(ctx)
}

// Rollback rolls back the underlying transaction and stops tracking it. Safe to call after Commit.
func (t *trackedTx) Rollback(ctx context.Context) error {
	t.forget()
	return t.Tx.Rollback(ctx)
}
