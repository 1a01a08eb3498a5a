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

package fixture

import (
	"context"

	"github.com/google/wire"

	"github.com/spiceai/ade/internal/api"
	"github.com/spiceai/ade/internal/cache"
	"github.com/spiceai/ade/internal/diag"
	"github.com/spiceai/ade/internal/registry"
	"github.com/spiceai/ade/internal/stopper"
)

// Set is used by Wire.
var Set = wire.NewSet(
	ProvideContext,
	ProvideRegistry,
	ProvideCache,
	ProvideDiagnostics,
	ProvideAPI,
	ProvideHandle,
	wire.Struct(new(Fixture), "*"),
)

// ProvideContext constructs the root stopper.Context every dataset
// goroutine in the fixture runs under. The cancel function stops it
// with registry.ShutdownGrace.
func ProvideContext() (*stopper.Context, func()) {
	ctx := stopper.WithContext(context.Background())
	return ctx, func() { ctx.Stop(registry.ShutdownGrace) }
}

// ProvideRegistry is called by Wire.
func ProvideRegistry() *registry.Registry {
	return registry.New()
}

// ProvideCache is called by Wire to build a Results Cache whose
// coherence lookups are bound to reg's datasets.
func ProvideCache(reg *registry.Registry, cfg Config) *cache.Cache {
	return cache.New(cache.Options{
		MaxEntries: cfg.CacheMaxEntries,
		Epochs:     reg.Epochs(),
	})
}

// ProvideDiagnostics is called by Wire.
func ProvideDiagnostics(reg *registry.Registry) *diag.Diagnostics {
	return diag.New(reg)
}

// ProvideAPI is called by Wire.
func ProvideAPI(reg *registry.Registry, c *cache.Cache, d *diag.Diagnostics) *api.Server {
	return api.New(reg, c, d)
}

// ProvideHandle registers cfg's dataset against ctx and reg, the last
// step before the fixture is ready for use.
func ProvideHandle(ctx *stopper.Context, reg *registry.Registry, cfg Config) (*registry.Handle, error) {
	return reg.Register(ctx, cfg.Dataset, cfg.Source, cfg.Store)
}
