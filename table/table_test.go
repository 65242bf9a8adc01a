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
	"testing"

	"github.com/stretchr/testify/assert"
)

func newLog() *MemTable {
	return NewMemTable(User, Item, Relevance).
		Append(int64(1), int64(10), 1.0).
		Append(int64(1), int64(20), 1.0).
		Append(int64(2), int64(10), 2.0).
		Append(int64(2), int64(10), 3.0)
}

func TestMemTable_Select(t *testing.T) {
	projected := newLog().Select(User)
	assert.Equal(t, []string{User}, projected.Columns())
	assert.Equal(t, 4, projected.Len())
	_, ok := projected.Collect()[0][Item]
	assert.False(t, ok)
}

func TestMemTable_Filter(t *testing.T) {
	filtered := newLog().Filter(func(r Row) bool {
		u, _ := r.Int(User)
		return u == 1
	})
	assert.Equal(t, 2, filtered.Len())
}

func TestMemTable_Distinct(t *testing.T) {
	distinct := newLog().Select(User, Item).Distinct()
	assert.Equal(t, 3, distinct.Len())
	// first occurrence order preserved
	u, _ := distinct.Collect()[0].Int(User)
	assert.Equal(t, int64(1), u)
}

func TestMemTable_JoinInner(t *testing.T) {
	prices := NewMemTable(Item, Price).
		Append(int64(10), 5.0).
		Append(int64(20), 7.0)
	joined := newLog().Join(prices, []string{Item}, JoinInner)
	assert.Equal(t, 4, joined.Len())
	p, _ := joined.Collect()[1].Float(Price)
	assert.Equal(t, 7.0, p)
}

func TestMemTable_JoinLeft(t *testing.T) {
	prices := NewMemTable(Item, Price).Append(int64(10), 5.0)
	joined := newLog().Join(prices, []string{Item}, JoinLeft)
	assert.Equal(t, 4, joined.Len())
	_, ok := joined.Collect()[1].Float(Price)
	assert.False(t, ok)
}

func TestMemTable_JoinLeftAnti(t *testing.T) {
	seen := NewMemTable(User, Item).Append(int64(1), int64(10))
	remaining := newLog().Join(seen, []string{User, Item}, JoinLeftAnti)
	assert.Equal(t, 3, remaining.Len())
	for _, row := range remaining.Collect() {
		u, _ := row.Int(User)
		i, _ := row.Int(Item)
		assert.False(t, u == 1 && i == 10)
	}
}

func TestMemTable_GroupBy(t *testing.T) {
	grouped := newLog().GroupBy(User).Agg(
		Count("n"),
		Sum(Relevance, "total"),
		Max(Relevance, "best"),
		Min(Relevance, "worst"),
	)
	assert.Equal(t, 2, grouped.Len())
	rows := grouped.Collect()
	n, _ := rows[1].Int("n")
	total, _ := rows[1].Float("total")
	best, _ := rows[1].Float("best")
	worst, _ := rows[1].Float("worst")
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 5.0, total)
	assert.Equal(t, 3.0, best)
	assert.Equal(t, 2.0, worst)
}

func TestMemTable_AppendMismatch(t *testing.T) {
	assert.Panics(t, func() { NewMemTable(User).Append(int64(1), int64(2)) })
}
