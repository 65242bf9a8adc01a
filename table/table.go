// Copyright 2025 recforge Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package table defines the relational contract the scoring engine expects
// from its data source. The engine never assumes a specific storage engine,
// only the operations below. MemTable is the in-memory reference
// implementation used by tests and the CLI.
package table

// Column names shared across the engine.
const (
	User      = "user_idx"
	Item      = "item_idx"
	Relevance = "relevance"
	Timestamp = "timestamp"
	Price     = "price"
)

// JoinKind enumerates supported join kinds.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinLeftAnti
)

// Row is a single record. Values are stored as int64 or float64.
type Row map[string]any

// Int returns an integer column value. Float values with an integral part
// are truncated.
func (r Row) Int(column string) (int64, bool) {
	switch v := r[column].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// Float returns a floating point column value.
func (r Row) Float(column string) (float64, bool) {
	switch v := r[column].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// Clone copies a row.
func (r Row) Clone() Row {
	clone := make(Row, len(r))
	for k, v := range r {
		clone[k] = v
	}
	return clone
}

// Table is a read-only relational view. All operations are stable: output
// row order is derived from input row order, which makes downstream
// ranking reproducible.
type Table interface {
	// Columns returns column names in declaration order.
	Columns() []string
	// Len returns the number of rows.
	Len() int
	// Select projects the table to the given columns.
	Select(columns ...string) Table
	// Filter keeps rows matching the predicate.
	Filter(predicate func(Row) bool) Table
	// Join joins with another table on the given key columns.
	Join(other Table, keys []string, kind JoinKind) Table
	// Distinct removes duplicate rows, keeping first occurrences.
	Distinct() Table
	// GroupBy groups rows by key columns for aggregation.
	GroupBy(keys ...string) *GroupedTable
	// Collect materializes the table to an ordered sequence of rows.
	Collect() []Row
}

// AggKind enumerates supported aggregations.
type AggKind int

const (
	AggCount AggKind = iota
	AggSum
	AggMax
	AggMin
)

// Agg describes one aggregation over a grouped table.
type Agg struct {
	Kind   AggKind
	Column string
	As     string
}

func Count(as string) Agg            { return Agg{Kind: AggCount, As: as} }
func Sum(column, as string) Agg      { return Agg{Kind: AggSum, Column: column, As: as} }
func Max(column, as string) Agg      { return Agg{Kind: AggMax, Column: column, As: as} }
func Min(column, as string) Agg      { return Agg{Kind: AggMin, Column: column, As: as} }
