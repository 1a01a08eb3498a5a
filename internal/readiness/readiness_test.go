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

package readiness

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spiceai/ade/internal/types"
)

func TestReadyOnLoadRejectsUntilFirstCommit(t *testing.T) {
	g := New(types.ReadyOnLoad)
	require.False(t, g.Ready())

	g.BeginLoad()
	state, _ := g.Current()
	require.Equal(t, Loading, state)
	require.False(t, g.Ready())

	g.CommitLanded()
	require.True(t, g.ServeFromStore())
}

func TestReadyOnRegistrationServesFromSourceDuringLoad(t *testing.T) {
	g := New(types.ReadyOnRegistration)
	g.BeginLoad()

	state, _ := g.Current()
	require.Equal(t, LiveSourceFallback, state)
	require.True(t, g.Ready())
	require.True(t, g.ServeFromSource())
	require.False(t, g.ServeFromStore())

	g.CommitLanded()
	require.True(t, g.ServeFromStore())
	require.False(t, g.ServeFromSource())
}

func TestCommitLandedNeverRegresses(t *testing.T) {
	g := New(types.ReadyOnLoad)
	g.BeginLoad()
	g.CommitLanded()
	require.True(t, g.ServeFromStore())

	// A later empty refresh cycle must not move the gate backward.
	g.BeginLoad()
	require.True(t, g.ServeFromStore())
}
