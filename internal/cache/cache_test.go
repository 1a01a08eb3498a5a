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

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spiceai/ade/internal/epoch"
	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/types"
)

func TestLookupMissThenHit(t *testing.T) {
	epochs := map[string]epoch.Epoch{"orders": 1}
	c := New(Options{
		ItemTTL: time.Minute,
		Epochs: func(d ident.Table) (epoch.Epoch, bool) {
			e, ok := epochs[d.Raw()]
			return e, ok
		},
	})

	fp := Fingerprint("SELECT * FROM orders")
	require.False(t, c.Lookup(fp).Hit)

	batches := []types.Batch{{Rows: []types.Row{{int64(1)}}}}
	c.Store(fp, batches, []Tag{{Dataset: ident.ParseTable("orders"), Epoch: 1}}, 64)

	result := c.Lookup(fp)
	require.True(t, result.Hit)
	require.Equal(t, batches, result.Batches)
}

func TestEpochAdvanceInvalidatesCacheEntry(t *testing.T) {
	current := epoch.Epoch(1)
	c := New(Options{
		Epochs: func(d ident.Table) (epoch.Epoch, bool) { return current, true },
	})

	fp := Fingerprint("SELECT * FROM orders")
	c.Store(fp, []types.Batch{{}}, []Tag{{Dataset: ident.ParseTable("orders"), Epoch: 1}}, 8)
	require.True(t, c.Lookup(fp).Hit)

	current = 2
	require.False(t, c.Lookup(fp).Hit, "a bumped epoch must invalidate the tagged entry")
}

func TestTTLExpiry(t *testing.T) {
	c := New(Options{ItemTTL: time.Millisecond})
	fp := Fingerprint("SELECT 1")
	c.Store(fp, []types.Batch{{}}, nil, 1)
	time.Sleep(5 * time.Millisecond)
	require.False(t, c.Lookup(fp).Hit)
}

func TestByteBudgetEvictsOldestFirst(t *testing.T) {
	c := New(Options{MaxBytes: 10})
	c.Store("a", []types.Batch{{}}, nil, 6)
	c.Store("b", []types.Batch{{}}, nil, 6)

	require.False(t, c.Lookup("a").Hit, "oldest entry must be evicted once the byte budget is exceeded")
	require.True(t, c.Lookup("b").Hit)
}

func TestOversizedEntryIsNeverAdmitted(t *testing.T) {
	c := New(Options{MaxBytes: 10})
	c.Store("huge", []types.Batch{{}}, nil, 100)
	require.False(t, c.Lookup("huge").Hit)
	require.Equal(t, 0, c.Len())
}

func TestInvalidateDropsAllEntriesForDataset(t *testing.T) {
	c := New(Options{
		Epochs: func(d ident.Table) (epoch.Epoch, bool) { return 1, true },
	})
	c.Store("q1", []types.Batch{{}}, []Tag{{Dataset: ident.ParseTable("orders"), Epoch: 1}}, 1)
	c.Store("q2", []types.Batch{{}}, []Tag{{Dataset: ident.ParseTable("customers"), Epoch: 1}}, 1)

	c.Invalidate(ident.ParseTable("orders"))
	require.False(t, c.Lookup("q1").Hit)
	require.True(t, c.Lookup("q2").Hit)
}

func TestFingerprintNormalizesWhitespaceAndCase(t *testing.T) {
	require.Equal(t,
		Fingerprint("select  *   from Orders -- trailing comment"),
		Fingerprint("SELECT * FROM Orders"),
	)
}

func TestFingerprintPreservesQuotedIdentifierCase(t *testing.T) {
	require.NotEqual(t,
		Fingerprint(`SELECT * FROM "Orders"`),
		Fingerprint(`SELECT * FROM "orders"`),
	)
}
