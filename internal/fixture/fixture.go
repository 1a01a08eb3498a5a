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

// Package fixture assembles a complete, in-process engine — registry,
// cache, diagnostics, and api.Server, with one dataset already
// registered — for tests that exercise the stack end to end rather
// than one package at a time. It is grounded on
// `internal/sinktest/base/wire_gen.go` and `internal/sinktest/all/
// fixture.go`'s cleanup-stacking construction, Wire-shaped but
// hand-maintained here since there is only ever one dataset shape to
// assemble.
package fixture

import (
	"github.com/spiceai/ade/internal/api"
	"github.com/spiceai/ade/internal/cache"
	"github.com/spiceai/ade/internal/diag"
	"github.com/spiceai/ade/internal/registry"
	"github.com/spiceai/ade/internal/stopper"
	"github.com/spiceai/ade/internal/store"
	"github.com/spiceai/ade/internal/types"
)

// Config selects the one dataset NewFixture registers.
type Config struct {
	Dataset *types.Dataset
	Source  types.SourceAdapter
	Store   store.Options
	// CacheMaxEntries bounds the fixture's Results Cache by item count;
	// zero falls back to Cache's own default.
	CacheMaxEntries int
}

// Fixture is a complete engine instance wired around one dataset.
type Fixture struct {
	Registry *registry.Registry
	Cache    *cache.Cache
	Diag     *diag.Diagnostics
	API      *api.Server
	Handle   *registry.Handle
}
