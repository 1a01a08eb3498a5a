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

// Package registry implements the process-wide dataset registry: it
// owns every dataset's Acceleration Store, Refresh Engine, Readiness
// Gate, Retention Sweeper, and Federation Arbiter, registers them in
// dependency order (spec §9), and tears them down in the reverse
// order. It is grounded on the teacher's `Resolvers` struct in
// `resolver.go`: a mutex-guarded map of per-target instances plus a
// stack of cleanup funcs invoked in LIFO order on shutdown.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/spiceai/ade/internal/epoch"
	"github.com/spiceai/ade/internal/federation"
	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/readiness"
	"github.com/spiceai/ade/internal/refresh"
	"github.com/spiceai/ade/internal/retention"
	"github.com/spiceai/ade/internal/stopper"
	"github.com/spiceai/ade/internal/store"
	"github.com/spiceai/ade/internal/types"
)

// Handle is everything the registry assembles for one dataset.
type Handle struct {
	Dataset *types.Dataset
	Store   types.AccelerationStore
	Source  types.SourceAdapter
	Engine  *refresh.Engine
	Gate    *readiness.Gate
	Epoch   *epoch.Counter
	Arbiter *federation.Arbiter
	// Sweeper is nil when the dataset has no RetentionPolicy.
	Sweeper *retention.Sweeper
	// Variant is the Acceleration Store backend this dataset was
	// opened with, surfaced for diagnostics.
	Variant store.Variant

	ctx *stopper.Context
}

// Registry is the process-wide dataset registry. The zero value is not
// usable; construct with New.
type Registry struct {
	mu struct {
		sync.Mutex
		cleanups  []func()
		instances map[string]*Handle
	}
}

// New builds an empty Registry.
func New() *Registry {
	r := &Registry{}
	r.mu.instances = make(map[string]*Handle)
	return r
}

// ShutdownGrace bounds how long Close waits for one dataset's
// background goroutines to exit before moving on to the next.
const ShutdownGrace = 10 * time.Second

// Register opens dataset's Acceleration Store per opts, wires its
// Refresh Engine, Readiness Gate, Retention Sweeper (if configured),
// and Federation Arbiter, and starts its background loops as children
// of parent. The caller owns source's lifecycle; the registry owns
// everything else returned in the Handle and releases it on Close.
func (r *Registry) Register(
	parent *stopper.Context,
	dataset *types.Dataset,
	source types.SourceAdapter,
	opts store.Options,
	refreshOpts ...refresh.Option,
) (*Handle, error) {
	name := dataset.Name.Raw()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.mu.instances[name]; exists {
		return nil, types.NewError(types.KindInternalInvariant, dataset.Name,
			errors.Errorf("dataset %q is already registered", name))
	}

	widened, err := widenSchema(parent, dataset, source, opts.UnsupportedType)
	if err != nil {
		return nil, types.NewError(types.KindUnsupportedType, dataset.Name,
			errors.Wrapf(err, "reconciling acceleration schema for %q against its source", name))
	}
	dataset.Schema = widened
	opts.Schema = widened

	st, err := store.Open(parent, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening acceleration store for %q", name)
	}

	ec := epoch.NewCounter()
	gate := readiness.New(dataset.ReadyState)
	eng := refresh.New(dataset, source, st, append([]refresh.Option{refresh.WithEpoch(ec)}, refreshOpts...)...)
	arb := federation.New(gate, st, source)

	var sweeper *retention.Sweeper
	if dataset.Retention != nil {
		sweeper = retention.New(dataset, st, ec)
	}

	dsCtx := stopper.WithContext(parent)

	gate.BeginLoad()
	eng.Run(dsCtx)
	if sweeper != nil {
		sweeper.Run(dsCtx)
	}
	watchFirstCommit(dsCtx, gate, eng)

	h := &Handle{
		Dataset: dataset,
		Store:   st,
		Source:  source,
		Engine:  eng,
		Gate:    gate,
		Epoch:   ec,
		Arbiter: arb,
		Sweeper: sweeper,
		Variant: opts.Variant,
		ctx:     dsCtx,
	}

	r.mu.instances[name] = h
	r.mu.cleanups = append(r.mu.cleanups, func() {
		eng.Disable()
		dsCtx.Stop(ShutdownGrace)
		if cerr := st.Close(); cerr != nil {
			log.WithError(cerr).WithField("dataset", name).Warn("closing acceleration store")
		}
	})

	return h, nil
}

// widenSchema reconciles dataset's author-declared schema against
// what source actually projects, per spec §3's invariant that the
// Acceleration Store's schema is a widening of the Source Adapter's
// projected schema. A source that cannot report a projected schema
// (nil or empty) leaves the declared schema untouched — there is
// nothing to reconcile against.
func widenSchema(ctx context.Context, dataset *types.Dataset, source types.SourceAdapter, action types.UnsupportedTypeAction) (types.Schema, error) {
	projected, err := source.ProjectedSchema(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "querying source's projected schema")
	}
	if len(projected) == 0 {
		return dataset.Schema, nil
	}
	return store.Widen(dataset.Schema, projected, action)
}

// watchFirstCommit advances gate to AcceleratedReady the first time
// eng reports a landed commit, mirroring the notify.Var
// get-plus-wakeup idiom used throughout this engine for "something
// changed, go look" signaling. It watches the engine's commit signal
// rather than the freshness epoch because a zero-row Append commit
// still counts as "at least one commit" for readiness (spec §4.3)
// even though it does not advance the epoch (spec §4.2).
func watchFirstCommit(ctx *stopper.Context, gate *readiness.Gate, eng *refresh.Engine) {
	ctx.Go(func() error {
		for {
			committed, ch := eng.Committed()
			if committed {
				gate.CommitLanded()
				return nil
			}
			select {
			case <-ch:
			case <-ctx.Stopping():
				return nil
			}
		}
	})
}

// Get returns the Handle registered under name.
func (r *Registry) Get(name string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.mu.instances[name]
	return h, ok
}

// GetTable returns the Handle for a dataset identified by table.
func (r *Registry) GetTable(table ident.Table) (*Handle, bool) {
	return r.Get(table.Raw())
}

// Datasets returns every currently registered Handle.
func (r *Registry) Datasets() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Handle, 0, len(r.mu.instances))
	for _, h := range r.mu.instances {
		out = append(out, h)
	}
	return out
}

// Epochs returns an EpochLookup closure bound to this Registry's
// current set of datasets, suitable for internal/cache.Options.Epochs.
func (r *Registry) Epochs() func(ident.Table) (epoch.Epoch, bool) {
	return func(t ident.Table) (epoch.Epoch, bool) {
		h, ok := r.GetTable(t)
		if !ok {
			return 0, false
		}
		return h.Epoch.Current(), true
	}
}

// Close tears down every registered dataset in the reverse order of
// registration, matching the teacher's Resolvers.close.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.mu.cleanups) - 1; i >= 0; i-- {
		r.mu.cleanups[i]()
	}
	r.mu.cleanups = nil
	r.mu.instances = make(map[string]*Handle)
}
