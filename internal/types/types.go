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

// Package types contains the data model and capability interfaces that
// define the Accelerated Dataset Engine's major functional blocks. The
// goal of placing the types into this package is to make it easy to
// compose functionality as the engine evolves, the same role this
// package plays in the project this engine is modeled on.
package types

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/watermark"
)

// ColumnType is a widened, dialect-neutral column type. The
// Acceleration Store's schema is a widening of the Source Adapter's
// projected schema (spec §3 invariants).
type ColumnType int

// Supported column types. String is the universal fallback used by the
// "string" UnsupportedTypeAction.
const (
	ColumnUnknown ColumnType = iota
	ColumnBool
	ColumnInt64
	ColumnFloat64
	ColumnString
	ColumnBytes
	ColumnTimestamp
	ColumnJSON
)

// Column describes one typed, named column in a Schema.
type Column struct {
	Name     ident.Ident
	Type     ColumnType
	Nullable bool
}

// Schema is an ordered set of named, typed columns (spec §3).
type Schema []Column

// IndexOf returns the position of name within the schema, or -1.
func (s Schema) IndexOf(name ident.Ident) int {
	for i, c := range s {
		if c.Name.Equal(name) {
			return i
		}
	}
	return -1
}

// UnsupportedTypeAction governs how the engine widens a Source
// Adapter's schema into the Acceleration Store's schema when a lossy
// cast is required (spec §4.1, §4.7).
type UnsupportedTypeAction int

const (
	// UnsupportedTypeError fails the commit (the default).
	UnsupportedTypeError UnsupportedTypeAction = iota
	// UnsupportedTypeWarn logs and proceeds with a best-effort cast.
	UnsupportedTypeWarn
	// UnsupportedTypeIgnore silently drops the offending column.
	UnsupportedTypeIgnore
	// UnsupportedTypeString downgrades the column to ColumnString.
	UnsupportedTypeString
)

// OnConflictAction resolves primary-key collisions during ingest
// (spec §3 invariants, §8 property 3).
type OnConflictAction int

const (
	// OnConflictDrop keeps the first row seen for a given key.
	OnConflictDrop OnConflictAction = iota
	// OnConflictUpsert keeps the last row seen for a given key.
	OnConflictUpsert
)

// ReadyStatePolicy selects when a dataset becomes queryable
// (spec §4.3).
type ReadyStatePolicy int

const (
	// ReadyOnLoad fails queries with NotReady until the first commit.
	ReadyOnLoad ReadyStatePolicy = iota
	// ReadyOnRegistration serves from source until the first commit.
	ReadyOnRegistration
)

// ZeroResultsPolicy controls the Federation Arbiter's fallback
// behavior when a locally-executed query returns zero rows
// (spec §4.4, scenario S3).
type ZeroResultsPolicy int

const (
	// ZeroResultsReturnEmpty accepts an empty local result as final.
	ZeroResultsReturnEmpty ZeroResultsPolicy = iota
	// ZeroResultsUseSource re-issues the query against the source,
	// once, within the same query.
	ZeroResultsUseSource
)

// RefreshMode names which RefreshPolicy variant a Dataset uses.
type RefreshMode int

const (
	RefreshFull RefreshMode = iota
	RefreshAppend
	RefreshChanges
)

func (m RefreshMode) String() string {
	switch m {
	case RefreshFull:
		return "full"
	case RefreshAppend:
		return "append"
	case RefreshChanges:
		return "changes"
	default:
		return "unknown"
	}
}

// RetryPolicy governs retries shared by all RefreshPolicy variants
// (spec §3).
type RetryPolicy struct {
	Enabled     bool
	MaxAttempts int
}

// JitterPolicy bounds the random component added to retry backoff
// (spec §3, §4.2).
type JitterPolicy struct {
	Enabled bool
	Max     time.Duration
}

// FullOptions configures a Full RefreshPolicy.
type FullOptions struct {
	// SQL optionally overrides the default "select everything"
	// federated query issued to the Source Adapter.
	SQL string
}

// AppendOptions configures an Append RefreshPolicy.
type AppendOptions struct {
	TimeColumn     ident.Ident
	LookbackWindow time.Duration
	Overlap        time.Duration
}

// ChangesOptions configures a Changes RefreshPolicy.
type ChangesOptions struct {
	// Stream names the source's CDC-like event stream to subscribe to.
	Stream string
}

// RefreshPolicy is the sum type described in spec §3: exactly one of
// Full, Append, or Changes is populated, selected by Mode.
type RefreshPolicy struct {
	Mode    RefreshMode
	Full    *FullOptions
	Append  *AppendOptions
	Changes *ChangesOptions

	CheckInterval time.Duration
	Retry         RetryPolicy
	Jitter        JitterPolicy
}

// RetentionPolicy configures the Retention Sweeper (spec §4.6).
type RetentionPolicy struct {
	TimeColumn    ident.Ident
	Period        time.Duration
	CheckInterval time.Duration
}

// IndexSpec marks one column as participating in the Acceleration
// Store's index set (spec §3).
type IndexSpec struct {
	Column ident.Ident
	Unique bool
}

// Dataset is the central entity of the engine (spec §3). Identity is
// Name; all lifecycle transitions on a Dataset are serialized by the
// registry that owns it.
type Dataset struct {
	Name   ident.Table
	Source string // opaque source locator, interpreted by the SourceAdapter

	Schema Schema

	TimeColumn          ident.Ident
	TimeFormat          string
	TimePartitionColumn ident.Ident
	TimePartitionFormat string

	PrimaryKey []ident.Ident
	Indexes    []IndexSpec

	Refresh   RefreshPolicy
	Retention *RetentionPolicy

	// OnConflict maps a primary-key column (by raw name) to its
	// collision-resolution action. In practice all PK columns share
	// one action; the map form matches the configuration surface
	// (spec §6) where conflict policy is expressed per-column.
	OnConflict map[string]OnConflictAction

	ReadyState  ReadyStatePolicy
	ZeroResults ZeroResultsPolicy

	UnsupportedTypeAction UnsupportedTypeAction
}

// HasPrimaryKey reports whether the dataset declares a primary key.
func (d *Dataset) HasPrimaryKey() bool { return len(d.PrimaryKey) > 0 }

// ConflictAction returns the configured resolution for the dataset's
// primary key, defaulting to OnConflictDrop if unset.
func (d *Dataset) ConflictAction() OnConflictAction {
	if len(d.PrimaryKey) == 0 {
		return OnConflictDrop
	}
	if action, ok := d.OnConflict[d.PrimaryKey[0].Raw()]; ok {
		return action
	}
	return OnConflictDrop
}

// MutationOp names the kind of change a Mutation represents in a
// Changes refresh stream (spec §3, §4.2).
type MutationOp int

const (
	OpInsert MutationOp = iota
	OpUpdate
	OpDelete
)

// A Mutation describes one row-level change arriving from a Changes
// refresh stream: a collection of column values to apply, together
// with the row's ordering position in the stream.
type Mutation struct {
	Op     MutationOp
	Key    json.RawMessage // encoded JSON array of primary-key values
	Before json.RawMessage // encoded JSON object, may be nil
	After  json.RawMessage // encoded JSON object, nil for deletes
	Time   watermark.Cursor
	Seq    uint64 // monotonically increasing stream position
}

// IsDelete reports whether the Mutation represents a row deletion.
func (m Mutation) IsDelete() bool {
	return m.Op == OpDelete || len(m.After) == 0
}

// Row is one record within a Batch, ordered to match the Batch's
// Schema.
type Row []any

// Batch is a finite slice of columnar data sharing one Schema — the
// unit exchanged between a Source Adapter's scan and an Acceleration
// Store's append/upsert/replace paths (spec §4.1).
type Batch struct {
	Schema Schema
	Rows   []Row
}

// Commit describes the result of a successful write to an
// Acceleration Store.
type Commit struct {
	ID        uuid.UUID
	RowCount  int
	Watermark watermark.Cursor
}

// PredicateOp enumerates the comparisons a Predicate may express.
type PredicateOp int

const (
	OpLess PredicateOp = iota
	OpLessOrEqual
	OpGreater
	OpGreaterOrEqual
	OpEqual
)

// Predicate is a store-dialect-neutral filter description evaluated
// by an Acceleration Store's scan or delete. It is intentionally
// minimal: spec §1 excludes query planner internals from this
// engine's scope, so Predicate only needs to express what the
// Retention Sweeper and Federation Arbiter require.
type Predicate struct {
	Column ident.Ident
	Op     PredicateOp
	Value  any
}

// Projection names the columns a scan should return; nil means all
// columns.
type Projection []ident.Ident

// ScanOptions parameterize AccelerationStore.Scan.
type ScanOptions struct {
	Projection Projection
	Filter     []Predicate
	Limit      int
}

// BatchSource is a finite, pull-based stream of Batches, used both for
// a Source Adapter's scan results and for data flowing into an
// Acceleration Store's append/upsert/replace paths.
type BatchSource interface {
	// Next returns the next Batch, or io.EOF when the stream is
	// exhausted. Implementations must be safe to call from exactly one
	// goroutine at a time.
	Next(ctx context.Context) (Batch, error)
}

// AccelerationStore is the per-dataset local replica described in
// spec §4.1.
type AccelerationStore interface {
	// Schema returns the store's current widened schema.
	Schema() Schema

	// AppendStream consumes a stream into one atomic commit. On
	// failure, partial writes are invisible (spec §4.1).
	AppendStream(ctx context.Context, stream BatchSource) (Commit, error)

	// UpsertStream consumes a stream, merging by primary key using
	// the dataset's configured conflict-resolution action.
	UpsertStream(ctx context.Context, stream BatchSource, pk []ident.Ident, action OnConflictAction) (Commit, error)

	// ReplaceAll atomically swaps the visible table. Readers that
	// began scanning before the swap keep their prior snapshot.
	ReplaceAll(ctx context.Context, stream BatchSource) (Commit, error)

	// Delete atomically removes rows matching every predicate (AND
	// semantics) and returns the number of rows removed. A composite
	// primary key's delete-by-key (spec §3, "delete removes by PK")
	// passes one equality predicate per key column.
	Delete(ctx context.Context, predicates ...Predicate) (int, error)

	// Scan returns a snapshot-consistent stream: a reader observes
	// exactly one commit for its entire iteration.
	Scan(ctx context.Context, opts ScanOptions) (BatchSource, error)

	// SnapshotMax returns the maximum value of column among committed
	// rows, used to derive the watermark. Returns ok=false if the
	// store has no rows yet.
	SnapshotMax(ctx context.Context, column ident.Ident) (value any, ok bool, err error)

	// Close releases any resources held by the store.
	Close() error
}

// SourceAdapter is the opaque external capability described in
// spec §2.1. It is pure I/O: the engine never writes through it.
type SourceAdapter interface {
	// Scan opens a streaming read over the source, applying whatever
	// combination of projection/filter/limit pushdown the adapter
	// supports; unsupported hints are the caller's responsibility to
	// apply as a post-filter.
	Scan(ctx context.Context, opts ScanOptions) (BatchSource, error)

	// SupportsFederatedSQL reports whether Query can execute
	// arbitrary SQL fragments against the source.
	SupportsFederatedSQL() bool

	// Query executes sql against the source when
	// SupportsFederatedSQL is true.
	Query(ctx context.Context, sql string, args ...any) (BatchSource, error)

	// ProjectedSchema returns the schema the adapter will produce.
	ProjectedSchema(ctx context.Context) (Schema, error)
}

// ChangeStream is the ordered event source consumed by a Changes
// refresh (spec §4.2). Ordering within the stream must be preserved;
// out-of-order events are a protocol violation, fatal to the
// dataset but not the process (spec §7).
type ChangeStream interface {
	// Next blocks until the next Mutation is available, or returns
	// the stream's terminal error (including context.Canceled).
	Next(ctx context.Context) (Mutation, error)
}

// ErrOutOfOrder is returned by a ChangeStream consumer when two
// consecutive events violate the stream's declared order.
var ErrOutOfOrder = errors.New("changes stream delivered an out-of-order event")

// Kind enumerates the abstract error categories from spec §7.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidConfig
	KindSourceUnavailable
	KindSourceSchemaMismatch
	KindUnsupportedType
	KindConstraintViolation
	KindNotReady
	KindCacheMiss
	KindCanceled
	KindInternalInvariant
)

func (k Kind) String() string {
	switch k {
	case KindInvalidConfig:
		return "InvalidConfig"
	case KindSourceUnavailable:
		return "SourceUnavailable"
	case KindSourceSchemaMismatch:
		return "SourceSchemaMismatch"
	case KindUnsupportedType:
		return "UnsupportedType"
	case KindConstraintViolation:
		return "ConstraintViolation"
	case KindNotReady:
		return "NotReady"
	case KindCacheMiss:
		return "CacheMiss"
	case KindCanceled:
		return "Canceled"
	case KindInternalInvariant:
		return "InternalInvariant"
	default:
		return "Unknown"
	}
}

// Error is a structured engine error carrying its Kind and, when
// known, the Dataset it concerns (spec §7: "Query failures return
// structured errors with the kind and the dataset").
type Error struct {
	Kind    Kind
	Dataset ident.Table
	cause   error
}

func (e *Error) Error() string {
	if e.Dataset.Raw() == "" {
		return e.Kind.String() + ": " + e.causeString()
	}
	return e.Kind.String() + " (" + e.Dataset.Raw() + "): " + e.causeString()
}

func (e *Error) causeString() string {
	if e.cause == nil {
		return "no further detail"
	}
	return e.cause.Error()
}

// Unwrap allows errors.Is/errors.As to see through to the cause.
func (e *Error) Unwrap() error { return e.cause }

// NewError builds a structured Error of the given Kind wrapping cause.
func NewError(kind Kind, dataset ident.Table, cause error) *Error {
	return &Error{Kind: kind, Dataset: dataset, cause: cause}
}

// IsKind reports whether err is a *Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
