// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package chaostest wraps the Refresh Engine's SourceAdapter and
// AccelerationStore collaborators with error-injecting decorators, for
// exercising the engine's retry/backoff behavior under fault
// conditions without a real flaky dependency.
package chaostest

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/types"
)

// ErrChaos is returned by a chaos-wrapped call chosen to fail.
var ErrChaos = errors.New("chaos")

func doChaos(op string) error {
	return errors.WithMessage(ErrChaos, op)
}

// WithSourceChaos returns delegate unchanged if prob <= 0, otherwise
// wraps it so that each call independently fails with probability
// prob.
func WithSourceChaos(delegate types.SourceAdapter, prob float32) types.SourceAdapter {
	if prob <= 0 {
		return delegate
	}
	return &chaosSource{delegate: delegate, prob: prob}
}

type chaosSource struct {
	delegate types.SourceAdapter
	prob     float32
}

func (c *chaosSource) Scan(ctx context.Context, opts types.ScanOptions) (types.BatchSource, error) {
	if rand.Float32() < c.prob {
		return nil, doChaos("Scan")
	}
	return c.delegate.Scan(ctx, opts)
}

func (c *chaosSource) SupportsFederatedSQL() bool { return c.delegate.SupportsFederatedSQL() }

func (c *chaosSource) Query(ctx context.Context, sql string, args ...any) (types.BatchSource, error) {
	if rand.Float32() < c.prob {
		return nil, doChaos("Query")
	}
	return c.delegate.Query(ctx, sql, args...)
}

func (c *chaosSource) ProjectedSchema(ctx context.Context) (types.Schema, error) {
	if rand.Float32() < c.prob {
		return nil, doChaos("ProjectedSchema")
	}
	return c.delegate.ProjectedSchema(ctx)
}

// WithStoreChaos returns delegate unchanged if prob <= 0, otherwise
// wraps it so that each write call independently fails with
// probability prob. Scan and SnapshotMax are left undisturbed so test
// assertions can observe what actually landed.
func WithStoreChaos(delegate types.AccelerationStore, prob float32) types.AccelerationStore {
	if prob <= 0 {
		return delegate
	}
	return &chaosStore{delegate: delegate, prob: prob}
}

type chaosStore struct {
	delegate types.AccelerationStore
	prob     float32
}

func (c *chaosStore) Schema() types.Schema { return c.delegate.Schema() }
func (c *chaosStore) Close() error         { return c.delegate.Close() }

func (c *chaosStore) AppendStream(ctx context.Context, stream types.BatchSource) (types.Commit, error) {
	if rand.Float32() < c.prob {
		return types.Commit{}, doChaos("AppendStream")
	}
	return c.delegate.AppendStream(ctx, stream)
}

func (c *chaosStore) UpsertStream(
	ctx context.Context, stream types.BatchSource, pk []ident.Ident, action types.OnConflictAction,
) (types.Commit, error) {
	if rand.Float32() < c.prob {
		return types.Commit{}, doChaos("UpsertStream")
	}
	return c.delegate.UpsertStream(ctx, stream, pk, action)
}

func (c *chaosStore) ReplaceAll(ctx context.Context, stream types.BatchSource) (types.Commit, error) {
	if rand.Float32() < c.prob {
		return types.Commit{}, doChaos("ReplaceAll")
	}
	return c.delegate.ReplaceAll(ctx, stream)
}

func (c *chaosStore) Delete(ctx context.Context, predicates ...types.Predicate) (int, error) {
	if rand.Float32() < c.prob {
		return 0, doChaos("Delete")
	}
	return c.delegate.Delete(ctx, predicates...)
}

func (c *chaosStore) Scan(ctx context.Context, opts types.ScanOptions) (types.BatchSource, error) {
	return c.delegate.Scan(ctx, opts)
}

func (c *chaosStore) SnapshotMax(ctx context.Context, column ident.Ident) (any, bool, error) {
	return c.delegate.SnapshotMax(ctx, column)
}
