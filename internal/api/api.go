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

// Package api is the external-collaborator contract described in spec
// §6: the query path's cache-coherent read, the refresh-trigger
// endpoint, and the `runtime.datasets` introspection relation. It is
// grounded on `source/server/config.go`'s bind/preflight shape, but
// the HTTP transport itself — request routing, auth, TLS — is left to
// a caller outside this engine's scope (spec §1, "query planner
// internals" and the outer SQL surface are non-goals); Server exposes
// the contract an HTTP handler would call into, with enough
// information (CacheStatus, Route) to set the `X-Cache: Hit|Miss`
// header spec §6 requires.
package api

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/spiceai/ade/internal/cache"
	"github.com/spiceai/ade/internal/diag"
	"github.com/spiceai/ade/internal/federation"
	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/registry"
	"github.com/spiceai/ade/internal/types"
)

// CacheStatus names the outcome a caller reports on the `X-Cache`
// response header (spec §6).
type CacheStatus string

const (
	CacheHit  CacheStatus = "Hit"
	CacheMiss CacheStatus = "Miss"
	// CacheBypass marks a `system`-prefixed introspection query, which
	// never touches the Results Cache (spec §6, "system queries bypass
	// the cache").
	CacheBypass CacheStatus = "Bypass"
)

// QueryRequest names one query against a single registered dataset.
// Fragment is assumed already resolved against Dataset's schema; real
// SQL parsing and cross-dataset planning are out of scope (spec §1)
// and are a collaborator's responsibility upstream of this contract.
type QueryRequest struct {
	Dataset string
	// SQL is the original query text, consulted only for cache
	// fingerprinting (internal/cache.Fingerprint); it is never
	// interpreted here.
	SQL      string
	Fragment federation.Fragment
	// System marks a `runtime.*`/`information_schema.*` introspection
	// query, which bypasses the Results Cache unconditionally.
	System bool
	// NoCache is a client-supplied cache-control hint (spec §6): when
	// set, the Results Cache is neither consulted nor populated for
	// this query, forcing a fresh read through the Federation Arbiter.
	NoCache bool
}

// QueryResponse is the result of a successful Query.
type QueryResponse struct {
	Batches []types.Batch
	Cache   CacheStatus
	Route   federation.Route
}

// Server is the process-wide handle a transport layer calls into. The
// zero value is not usable; construct with New.
type Server struct {
	registry *registry.Registry
	cache    *cache.Cache
	diag     *diag.Diagnostics
}

// New builds a Server over reg's registered datasets, caching through
// c, with introspection backed by d.
func New(reg *registry.Registry, c *cache.Cache, d *diag.Diagnostics) *Server {
	return &Server{registry: reg, cache: c, diag: d}
}

// Query resolves req against the dataset's Federation Arbiter,
// honoring the Results Cache's coherence contract for every
// non-system query (spec §4.5, §6).
func (s *Server) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	h, ok := s.registry.Get(req.Dataset)
	if !ok {
		return QueryResponse{}, types.NewError(types.KindInvalidConfig, ident.ParseTable(req.Dataset),
			errors.Errorf("unknown dataset %q", req.Dataset))
	}

	if req.System {
		batches, route, err := drain(ctx, h, req.Fragment)
		if err != nil {
			return QueryResponse{}, err
		}
		return QueryResponse{Batches: batches, Cache: CacheBypass, Route: route}, nil
	}

	fingerprint := cache.Fingerprint(req.SQL)
	if !req.NoCache {
		if hit := s.cache.Lookup(fingerprint); hit.Hit {
			return QueryResponse{Batches: hit.Batches, Cache: CacheHit}, nil
		}
	}

	batches, route, err := drain(ctx, h, req.Fragment)
	if err != nil {
		return QueryResponse{}, err
	}

	if req.NoCache {
		return QueryResponse{Batches: batches, Cache: CacheMiss, Route: route}, nil
	}

	tags := []cache.Tag{{Dataset: h.Dataset.Name, Epoch: h.Epoch.Current()}}
	s.cache.Store(fingerprint, batches, tags, batchesSize(batches))
	return QueryResponse{Batches: batches, Cache: CacheMiss, Route: route}, nil
}

// drain executes fragment through h's Arbiter and collects every
// batch, since the cache admits a query result as a whole rather than
// as a live stream (spec §4.5).
func drain(ctx context.Context, h *registry.Handle, fragment federation.Fragment) ([]types.Batch, federation.Route, error) {
	stream, route, err := h.Arbiter.Execute(ctx, fragment, h.Dataset.ZeroResults)
	if err != nil {
		return nil, route, err
	}

	var batches []types.Batch
	for {
		batch, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, route, err
		}
		batches = append(batches, batch)
	}
	return batches, route, nil
}

// batchesSize estimates the admitted payload size for the cache's
// MaxBytes accounting. It does not need to be exact, only monotone in
// the number and width of cells: a precise byte count would require
// reaching into every store's row encoding, which the cache package
// deliberately stays independent of.
func batchesSize(batches []types.Batch) int64 {
	const perCell = 16
	var n int64
	for _, b := range batches {
		for _, row := range b.Rows {
			n += int64(len(row)) * perCell
		}
	}
	return n
}

// TriggerRefresh requests an out-of-band refresh cycle for dataset
// (spec §6's refresh-trigger endpoint contract).
func (s *Server) TriggerRefresh(dataset string) error {
	h, ok := s.registry.Get(dataset)
	if !ok {
		return types.NewError(types.KindInvalidConfig, ident.ParseTable(dataset),
			errors.Errorf("unknown dataset %q", dataset))
	}
	h.Engine.Trigger()
	return nil
}

// RuntimeDatasets backs the `runtime.datasets` introspection relation.
func (s *Server) RuntimeDatasets() []diag.DatasetStatus {
	return s.diag.Snapshot()
}

// InvalidateDataset drops every Results Cache entry tagged for
// dataset, for a caller that deregisters or reconfigures a dataset
// and wants its cache footprint reclaimed immediately rather than
// waiting on epoch coherence (spec §4.5).
func (s *Server) InvalidateDataset(dataset string) {
	s.cache.Invalidate(ident.ParseTable(dataset))
}
