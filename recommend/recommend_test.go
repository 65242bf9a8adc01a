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

package recommend

import (
	"math"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recforge/recforge/dataset"
	"github.com/recforge/recforge/table"
)

func TestGenerate_Dedupe(t *testing.T) {
	candidates := Generate([]int32{0, 0, 1}, []int32{5, 5, 6}, nil, false)
	assert.Equal(t, []Candidate{
		{User: 0, Item: 5}, {User: 0, Item: 6},
		{User: 1, Item: 5}, {User: 1, Item: 6},
	}, candidates)
}

func TestGenerate_FilterSeen(t *testing.T) {
	seen := []mapset.Set[int32]{
		mapset.NewThreadUnsafeSet[int32](5, 6),
		mapset.NewThreadUnsafeSet[int32](),
	}
	candidates := Generate([]int32{0, 1}, []int32{5, 6}, seen, true)
	// user 0 has everything filtered, user 1 keeps both
	assert.Equal(t, []Candidate{{User: 1, Item: 5}, {User: 1, Item: 6}}, candidates)
}

func TestRank_StableTruncate(t *testing.T) {
	scored := []Scored{
		{User: 1, Item: 7, Relevance: 0.5},
		{User: 0, Item: 5, Relevance: 0.5},
		{User: 0, Item: 6, Relevance: 0.5},
		{User: 0, Item: 7, Relevance: 0.9},
	}
	ranked := Rank(scored, 2)
	assert.Equal(t, []Scored{
		{User: 0, Item: 7, Relevance: 0.9},
		{User: 0, Item: 5, Relevance: 0.5}, // tie keeps generation order
		{User: 1, Item: 7, Relevance: 0.5},
	}, ranked)
}

func newDataset(t *testing.T) *dataset.Dataset {
	log := table.NewMemTable(table.User, table.Item, table.Relevance).
		Append(int64(1), int64(10), 1.0).
		Append(int64(1), int64(20), 1.0).
		Append(int64(2), int64(20), 1.0)
	d, err := dataset.Build(log, nil, nil)
	require.NoError(t, err)
	return d
}

func constantScore(user int32, items []int32) []float64 {
	scores := make([]float64, len(items))
	for i := range scores {
		scores[i] = float64(items[i]) // higher index scores higher
	}
	return scores
}

func TestRun(t *testing.T) {
	d := newDataset(t)
	users := table.NewMemTable(table.User).Append(int64(1)).Append(int64(2)).Append(int64(99))
	items := table.NewMemTable(table.Item).Append(int64(10)).Append(int64(20))
	out, err := Run(d, 10, users, items, false, constantScore)
	require.NoError(t, err)
	// unknown user 99 skipped, 2 users x 2 items
	assert.Equal(t, 4, out.Len())
	first := out.Collect()[0]
	u, _ := first.Int(table.User)
	i, _ := first.Int(table.Item)
	assert.Equal(t, int64(1), u)
	assert.Equal(t, int64(20), i) // item 20 has the larger dense index
}

func TestRun_FilterSeenExact(t *testing.T) {
	d := newDataset(t)
	users := table.NewMemTable(table.User).Append(int64(1)).Append(int64(2))
	items := table.NewMemTable(table.Item).Append(int64(10)).Append(int64(20))
	out, err := Run(d, 10, users, items, true, constantScore)
	require.NoError(t, err)
	// user 1 saw both items, user 2 saw item 20
	assert.Equal(t, 1, out.Len())
	row := out.Collect()[0]
	u, _ := row.Int(table.User)
	i, _ := row.Int(table.Item)
	assert.Equal(t, int64(2), u)
	assert.Equal(t, int64(10), i)
}

func TestRun_EmptyRequest(t *testing.T) {
	d := newDataset(t)
	out, err := Run(d, 5, table.NewMemTable(table.User), table.NewMemTable(table.Item), false, constantScore)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
}

func TestRun_InvalidK(t *testing.T) {
	d := newDataset(t)
	_, err := Run(d, 0, table.NewMemTable(table.User), table.NewMemTable(table.Item), false, constantScore)
	assert.Error(t, err)
}

func TestRun_NaNSkipped(t *testing.T) {
	d := newDataset(t)
	users := table.NewMemTable(table.User).Append(int64(1))
	items := table.NewMemTable(table.Item).Append(int64(10)).Append(int64(20))
	out, err := Run(d, 10, users, items, false, func(user int32, items []int32) []float64 {
		scores := make([]float64, len(items))
		for i := range scores {
			scores[i] = math.NaN()
		}
		scores[0] = 1
		return scores
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Len())
}

func TestRun_Idempotent(t *testing.T) {
	d := newDataset(t)
	users := table.NewMemTable(table.User).Append(int64(1)).Append(int64(2))
	items := table.NewMemTable(table.Item).Append(int64(10)).Append(int64(20))
	a, err := Run(d, 1, users, items, false, constantScore)
	require.NoError(t, err)
	b, err := Run(d, 1, users, items, false, constantScore)
	require.NoError(t, err)
	assert.Equal(t, a.Collect(), b.Collect())
}
