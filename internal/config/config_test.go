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

package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spiceai/ade/internal/types"
)

const validDoc = `
kind: Spicepod
name: demo
version: v1
datasets:
  - name: orders
    from: mysql:orders
    acceleration:
      enabled: true
      mode: memory
      refresh_mode: full
      refresh_check_interval: 30s
`

func TestDecodeAndPreflightAccepted(t *testing.T) {
	pod, err := Decode([]byte(validDoc))
	require.NoError(t, err)
	require.NoError(t, pod.Preflight())
	require.Len(t, pod.Datasets, 1)
}

func TestPreflightRejectsWrongKind(t *testing.T) {
	pod, err := Decode([]byte("kind: NotASpicepod\nname: demo\nversion: v1\n"))
	require.NoError(t, err)
	err = pod.Preflight()
	require.Error(t, err)
	require.True(t, types.IsKind(err, types.KindInvalidConfig))
}

func TestPreflightRejectsDuplicateDatasetNames(t *testing.T) {
	doc := `
kind: Spicepod
name: demo
version: v1
datasets:
  - name: orders
    from: a
  - name: orders
    from: b
`
	pod, err := Decode([]byte(doc))
	require.NoError(t, err)
	require.Error(t, pod.Preflight())
}

func TestPreflightRejectsAppendOverlapWithoutPrimaryKey(t *testing.T) {
	doc := `
kind: Spicepod
name: demo
version: v1
datasets:
  - name: orders
    from: mysql:orders
    time_column: ts
    acceleration:
      enabled: true
      refresh_mode: append
      refresh_append_overlap: 1m
`
	pod, err := Decode([]byte(doc))
	require.NoError(t, err)
	err = pod.Preflight()
	require.Error(t, err)
	require.True(t, types.IsKind(err, types.KindInvalidConfig))
}

func TestPreflightAcceptsAppendOverlapWithPrimaryKey(t *testing.T) {
	doc := `
kind: Spicepod
name: demo
version: v1
datasets:
  - name: orders
    from: mysql:orders
    time_column: ts
    acceleration:
      enabled: true
      refresh_mode: append
      refresh_append_overlap: 1m
      primary_key: [id]
`
	pod, err := Decode([]byte(doc))
	require.NoError(t, err)
	require.NoError(t, pod.Preflight())
}

func TestPreflightDetectsDependencyCycle(t *testing.T) {
	doc := `
kind: Spicepod
name: demo
version: v1
datasets:
  - name: a
    from: x
    dependsOn: [b]
  - name: b
    from: y
    dependsOn: [a]
`
	pod, err := Decode([]byte(doc))
	require.NoError(t, err)
	require.Error(t, pod.Preflight())
}

func TestReadyStateNestedFormWins(t *testing.T) {
	d := Dataset{
		Name:       "orders",
		ReadyState: "on_load",
		Acceleration: &Acceleration{
			Enabled:    true,
			ReadyState: "on_registration",
		},
	}
	require.Equal(t, "on_registration", d.effectiveReadyState())
}

func TestToDatasetTranslatesAccelerationIntoRefreshPolicy(t *testing.T) {
	doc := `
kind: Spicepod
name: demo
version: v1
datasets:
  - name: orders
    from: mysql:orders
    time_column: ts
    columns:
      - name: id
        type: int64
      - name: ts
        type: timestamp
    acceleration:
      enabled: true
      mode: memory
      refresh_mode: append
      refresh_append_overlap: 1m
      primary_key: [id]
      on_conflict: {id: upsert}
      on_zero_results: use_source
`
	pod, err := Decode([]byte(doc))
	require.NoError(t, err)
	require.NoError(t, pod.Preflight())

	ds, opts, enabled := pod.Datasets[0].ToDataset()
	require.True(t, enabled)
	require.Equal(t, types.RefreshAppend, ds.Refresh.Mode)
	require.Equal(t, "ts", ds.Refresh.Append.TimeColumn.Raw())
	require.Equal(t, types.ZeroResultsUseSource, ds.ZeroResults)
	require.Equal(t, types.OnConflictUpsert, ds.ConflictAction())
	require.Len(t, opts.Schema, 2)
}
