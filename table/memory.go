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

package table

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// MemTable is an order-preserving in-memory table.
type MemTable struct {
	columns []string
	rows    []Row
}

// NewMemTable creates an empty table with the given columns.
func NewMemTable(columns ...string) *MemTable {
	return &MemTable{columns: columns}
}

// Append adds one row. Values outside the declared columns are dropped.
func (t *MemTable) Append(values ...any) *MemTable {
	if len(values) != len(t.columns) {
		panic(fmt.Sprintf("table: expected %d values, got %d", len(t.columns), len(values)))
	}
	row := make(Row, len(t.columns))
	for i, c := range t.columns {
		row[c] = values[i]
	}
	t.rows = append(t.rows, row)
	return t
}

// AppendRow adds one row given as a map.
func (t *MemTable) AppendRow(row Row) *MemTable {
	kept := make(Row, len(t.columns))
	for _, c := range t.columns {
		kept[c] = row[c]
	}
	t.rows = append(t.rows, kept)
	return t
}

func (t *MemTable) Columns() []string {
	return t.columns
}

func (t *MemTable) Len() int {
	return len(t.rows)
}

func (t *MemTable) Select(columns ...string) Table {
	out := NewMemTable(columns...)
	for _, row := range t.rows {
		out.AppendRow(row)
	}
	return out
}

func (t *MemTable) Filter(predicate func(Row) bool) Table {
	out := NewMemTable(t.columns...)
	for _, row := range t.rows {
		if predicate(row) {
			out.rows = append(out.rows, row)
		}
	}
	return out
}

func (t *MemTable) Distinct() Table {
	out := NewMemTable(t.columns...)
	seen := make(map[string]struct{}, len(t.rows))
	for _, row := range t.rows {
		key := rowKey(row, t.columns)
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			out.rows = append(out.rows, row)
		}
	}
	return out
}

func (t *MemTable) Join(other Table, keys []string, kind JoinKind) Table {
	rightRows := other.Collect()
	// hash the right side by key tuple, preserving row order inside buckets
	buckets := make(map[string][]Row, len(rightRows))
	for _, row := range rightRows {
		key := rowKey(row, keys)
		buckets[key] = append(buckets[key], row)
	}
	joined := lo.Uniq(append(append([]string{}, t.columns...), other.Columns()...))
	var out *MemTable
	switch kind {
	case JoinLeftAnti:
		out = NewMemTable(t.columns...)
	default:
		out = NewMemTable(joined...)
	}
	for _, left := range t.rows {
		key := rowKey(left, keys)
		matches := buckets[key]
		switch kind {
		case JoinInner:
			for _, right := range matches {
				out.rows = append(out.rows, mergeRows(left, right))
			}
		case JoinLeft:
			if len(matches) == 0 {
				out.rows = append(out.rows, left.Clone())
			} else {
				for _, right := range matches {
					out.rows = append(out.rows, mergeRows(left, right))
				}
			}
		case JoinLeftAnti:
			if len(matches) == 0 {
				out.rows = append(out.rows, left)
			}
		}
	}
	return out
}

func (t *MemTable) GroupBy(keys ...string) *GroupedTable {
	return &GroupedTable{source: t, keys: keys}
}

func (t *MemTable) Collect() []Row {
	return t.rows
}

// GroupedTable is the intermediate result of Table.GroupBy.
type GroupedTable struct {
	source *MemTable
	keys   []string
}

// Agg aggregates each group. Output groups appear in first-seen order.
func (g *GroupedTable) Agg(aggs ...Agg) Table {
	columns := append([]string{}, g.keys...)
	for _, agg := range aggs {
		columns = append(columns, agg.As)
	}
	out := NewMemTable(columns...)
	order := make([]string, 0)
	groups := make(map[string][]Row)
	for _, row := range g.source.rows {
		key := rowKey(row, g.keys)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}
	for _, key := range order {
		rows := groups[key]
		result := make(Row, len(columns))
		for _, k := range g.keys {
			result[k] = rows[0][k]
		}
		for _, agg := range aggs {
			result[agg.As] = aggregate(rows, agg)
		}
		out.rows = append(out.rows, result)
	}
	return out
}

func aggregate(rows []Row, agg Agg) any {
	if agg.Kind == AggCount {
		return int64(len(rows))
	}
	var acc float64
	for i, row := range rows {
		v, _ := row.Float(agg.Column)
		switch agg.Kind {
		case AggSum:
			acc += v
		case AggMax:
			if i == 0 || v > acc {
				acc = v
			}
		case AggMin:
			if i == 0 || v < acc {
				acc = v
			}
		}
	}
	return acc
}

func mergeRows(left, right Row) Row {
	merged := left.Clone()
	for k, v := range right {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return merged
}

func rowKey(row Row, columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = fmt.Sprintf("%v", row[c])
	}
	return strings.Join(parts, "\x1f")
}
