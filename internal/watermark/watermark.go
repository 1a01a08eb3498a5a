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

// Package watermark implements the Append-refresh cursor described in
// spec §3: the maximum observed value of time_partition_column
// (falling back to time_column) among committed rows, monotone
// non-decreasing, and recomputable from the store rather than
// durably persisted on its own.
package watermark

import "time"

// A Cursor is a comparable point in the logical/physical time-column
// space. Physical, when set, is the coarser time_partition_column
// value (possibly a date with no time-of-day component); Logical is
// always the precise time_column value. Comparisons prefer Physical
// when both cursors carry one, matching the partition-pruning
// requirement of scenario S6.
type Cursor struct {
	Physical    time.Time
	HasPhysical bool
	Logical     time.Time
}

// Zero is the cursor preceding all real data.
var Zero = Cursor{}

// IsZero reports whether the cursor is the zero value.
func (c Cursor) IsZero() bool {
	return !c.HasPhysical && c.Logical.IsZero()
}

// Compare returns -1, 0, or 1 as a is before, equal to, or after b. It
// compares Physical cursors first when both are present (coarser,
// partition-pruning column), then always compares Logical as the
// precise tiebreaker so that two rows in the same physical partition
// still order correctly.
func Compare(a, b Cursor) int {
	if a.HasPhysical && b.HasPhysical {
		if c := a.Physical.Compare(b.Physical); c != 0 {
			return c
		}
	}
	return a.Logical.Compare(b.Logical)
}

// Max returns the later of two cursors.
func Max(a, b Cursor) Cursor {
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}

// Sub returns a cursor moved earlier by d, applied to both the
// physical and logical components. Used to compute the Append
// refresh's lower bound: watermark - overlap.
func (c Cursor) Sub(d time.Duration) Cursor {
	ret := Cursor{Logical: c.Logical.Add(-d)}
	if c.HasPhysical {
		ret.Physical = c.Physical.Add(-d)
		ret.HasPhysical = true
	}
	return ret
}

// After reports whether c is strictly later than other.
func (c Cursor) After(other Cursor) bool { return Compare(c, other) > 0 }

// AtOrAfter reports whether c is later than or equal to other.
func (c Cursor) AtOrAfter(other Cursor) bool { return Compare(c, other) >= 0 }
