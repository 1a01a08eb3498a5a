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

// Package retention implements the Retention Sweeper described in
// spec §4.6: a periodic goroutine that deletes rows older than a
// dataset's configured retention period and bumps the freshness epoch
// whenever it removes at least one row.
package retention

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/spiceai/ade/internal/epoch"
	"github.com/spiceai/ade/internal/metrics"
	"github.com/spiceai/ade/internal/stopper"
	"github.com/spiceai/ade/internal/types"
)

// Sweeper periodically deletes rows older than a cutoff from one
// dataset's Acceleration Store.
type Sweeper struct {
	dataset *types.Dataset
	store   types.AccelerationStore
	epoch   *epoch.Counter
}

// New builds a Sweeper for dataset, operating against store and
// bumping epoch on every sweep that removes at least one row.
// dataset.Retention must be non-nil.
func New(dataset *types.Dataset, store types.AccelerationStore, epoch *epoch.Counter) *Sweeper {
	return &Sweeper{dataset: dataset, store: store, epoch: epoch}
}

// Run starts the sweep loop, grounded on the resolver's retireLoop:
// a goroutine gated on ctx.Stopping() that wakes on its own timer
// rather than an external notification, since retention has no
// upstream event to react to.
func (s *Sweeper) Run(ctx *stopper.Context) {
	policy := s.dataset.Retention
	ctx.Go(func() error {
		ticker := time.NewTicker(policy.CheckInterval)
		defer ticker.Stop()

		for {
			if err := s.sweepOnce(ctx); err != nil {
				log.WithError(err).WithField("dataset", s.dataset.Name.Raw()).
					Warn("retention sweep failed")
			}

			select {
			case <-ticker.C:
			case <-ctx.Stopping():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

func (s *Sweeper) sweepOnce(ctx *stopper.Context) error {
	label := s.dataset.Name.Raw()
	started := time.Now()
	defer func() {
		metrics.RetentionSweepDuration.WithLabelValues(label).Observe(time.Since(started).Seconds())
	}()

	policy := s.dataset.Retention
	cutoff := time.Now().Add(-policy.Period)

	removed, err := s.store.Delete(ctx, types.Predicate{
		Column: policy.TimeColumn,
		Op:     types.OpLess,
		Value:  cutoff,
	})
	if err != nil {
		metrics.RetentionErrors.WithLabelValues(label).Inc()
		return err
	}
	if removed > 0 {
		metrics.RetentionRowsDeleted.WithLabelValues(label).Add(float64(removed))
		s.epoch.Advance()
		log.WithFields(log.Fields{
			"dataset": s.dataset.Name.Raw(),
			"removed": removed,
			"cutoff":  cutoff,
		}).Debug("retention sweep removed rows")
	}
	return nil
}
