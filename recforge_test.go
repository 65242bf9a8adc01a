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

package recforge

import (
	"context"
	"os"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recforge/recforge/base/log"
	"github.com/recforge/recforge/model"
	"github.com/recforge/recforge/table"
)

// fitting every strategy in a loop is noisy at the default log level
func TestMain(m *testing.M) {
	log.CloseLogger()
	os.Exit(m.Run())
}

func newLog() table.Table {
	return table.NewMemTable(table.User, table.Item, table.Relevance, table.Timestamp).
		Append(int64(1), int64(10), 1.0, int64(1)).
		Append(int64(1), int64(20), 1.0, int64(2)).
		Append(int64(2), int64(20), 1.0, int64(1)).
		Append(int64(2), int64(30), 1.0, int64(2)).
		Append(int64(3), int64(10), 1.0, int64(1)).
		Append(int64(3), int64(30), 1.0, int64(2))
}

func newUserFeatures() table.Table {
	return table.NewMemTable(table.User, "age").
		Append(int64(1), 20.0).
		Append(int64(2), 30.0).
		Append(int64(3), 40.0)
}

func newItemFeatures() table.Table {
	return table.NewMemTable(table.Item, "weight", table.Price).
		Append(int64(10), 1.0, 2.0).
		Append(int64(20), 2.0, 4.0).
		Append(int64(30), 3.0, 8.0)
}

func allKinds() []model.StrategyKind {
	return []model.StrategyKind{
		model.KindGraph,
		model.KindSeqRNN,
		model.KindSeqAttention,
		model.KindNGram,
		model.KindSimilarity,
		model.KindBoost,
	}
}

func TestNewStrategyClosedSet(t *testing.T) {
	for _, kind := range allKinds() {
		s, err := NewStrategy(kind, model.Params{})
		require.NoError(t, err, kind)
		assert.NotNil(t, s, kind)
	}
	_, err := NewStrategy("dqn", model.Params{})
	assert.True(t, errors.Is(err, errors.NotValid))
}

// every strategy honors the same contract: at most k rows per user,
// relevance sorted descending per user, identical calls identical
// results.
func TestEngineContract(t *testing.T) {
	users := table.NewMemTable(table.User).Append(int64(1)).Append(int64(2)).Append(int64(3))
	items := table.NewMemTable(table.Item).Append(int64(10)).Append(int64(20)).Append(int64(30))
	for _, kind := range allKinds() {
		t.Run(string(kind), func(t *testing.T) {
			engine, err := NewEngine(NewSession(42), kind, model.Params{model.NEpochs: 2, model.NTrees: 5})
			require.NoError(t, err)
			require.NoError(t, engine.Fit(context.Background(), newLog(), newUserFeatures(), newItemFeatures()))

			out, err := engine.Predict(context.Background(), newLog(), 2, users, items, nil, nil, false)
			require.NoError(t, err)
			perUser := map[int64]int{}
			lastRelevance := map[int64]float64{}
			for _, row := range out.Collect() {
				u, ok := row.Int(table.User)
				require.True(t, ok)
				r, ok := row.Float(table.Relevance)
				require.True(t, ok)
				perUser[u]++
				assert.LessOrEqual(t, perUser[u], 2)
				if prev, seen := lastRelevance[u]; seen {
					assert.LessOrEqual(t, r, prev)
				}
				lastRelevance[u] = r
			}

			again, err := engine.Predict(context.Background(), newLog(), 2, users, items, nil, nil, false)
			require.NoError(t, err)
			assert.Equal(t, out.Collect(), again.Collect())
		})
	}
}

func TestEngineFilterSeenNeverReturnsSeen(t *testing.T) {
	users := table.NewMemTable(table.User).Append(int64(1)).Append(int64(2))
	items := table.NewMemTable(table.Item).Append(int64(10)).Append(int64(20)).Append(int64(30))
	seen := map[int64]map[int64]bool{
		1: {10: true, 20: true},
		2: {20: true, 30: true},
	}
	for _, kind := range allKinds() {
		t.Run(string(kind), func(t *testing.T) {
			engine, err := NewEngine(NewSession(42), kind, model.Params{model.NEpochs: 2, model.NTrees: 5})
			require.NoError(t, err)
			require.NoError(t, engine.Fit(context.Background(), newLog(), newUserFeatures(), newItemFeatures()))
			out, err := engine.Predict(context.Background(), newLog(), 3, users, items, nil, nil, true)
			require.NoError(t, err)
			for _, row := range out.Collect() {
				u, _ := row.Int(table.User)
				i, _ := row.Int(table.Item)
				assert.False(t, seen[u][i], "user %d got seen item %d", u, i)
			}
		})
	}
}

func TestEngineEmptyRequest(t *testing.T) {
	engine, err := NewEngine(NewSession(42), model.KindNGram, nil)
	require.NoError(t, err)
	require.NoError(t, engine.Fit(context.Background(), newLog(), nil, nil))
	out, err := engine.Predict(context.Background(), newLog(), 5,
		table.NewMemTable(table.User), table.NewMemTable(table.Item), nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
}

func TestEngineInvalidK(t *testing.T) {
	engine, err := NewEngine(NewSession(42), model.KindNGram, nil)
	require.NoError(t, err)
	require.NoError(t, engine.Fit(context.Background(), newLog(), nil, nil))
	_, err = engine.Predict(context.Background(), newLog(), 0, nil, nil, nil, nil, false)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestSessionSeedPropagates(t *testing.T) {
	users := table.NewMemTable(table.User).Append(int64(1))
	items := table.NewMemTable(table.Item).Append(int64(10)).Append(int64(20)).Append(int64(30))
	run := func(seed int64) []table.Row {
		engine, err := NewEngine(NewSession(seed), model.KindGraph, model.Params{model.NEpochs: 3})
		require.NoError(t, err)
		require.NoError(t, engine.Fit(context.Background(), newLog(), nil, newItemFeatures()))
		out, err := engine.Predict(context.Background(), newLog(), 3, users, items, nil, nil, false)
		require.NoError(t, err)
		return out.Collect()
	}
	assert.Equal(t, run(7), run(7))
}
