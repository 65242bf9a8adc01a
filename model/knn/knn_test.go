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

package knn

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recforge/recforge/model"
	"github.com/recforge/recforge/table"
)

func newLog() table.Table {
	return table.NewMemTable(table.User, table.Item, table.Relevance).
		Append(int64(1), int64(10), 1.0).
		Append(int64(1), int64(20), 1.0).
		Append(int64(2), int64(20), 1.0).
		Append(int64(2), int64(30), 1.0).
		Append(int64(3), int64(10), 1.0)
}

func newItemFeatures() table.Table {
	return table.NewMemTable(table.Item, "weight", table.Price).
		Append(int64(10), 1.0, 1.0).
		Append(int64(20), 2.0, 1.0).
		Append(int64(30), 9.0, 1.0)
}

func newUserFeatures() table.Table {
	return table.NewMemTable(table.User, "age").
		Append(int64(1), 20.0).
		Append(int64(2), 21.0).
		Append(int64(3), 60.0)
}

func itemParams() model.Params {
	return model.Params{
		model.NNeighbors:   2,
		model.Metric:       model.MetricEuclidean,
		model.NeighborMode: model.ItemBased,
	}
}

func TestItemBasedCloserItemWins(t *testing.T) {
	k := New(itemParams())
	require.NoError(t, k.Fit(context.Background(), newLog(), nil, newItemFeatures()))
	// user 3 has no attribute vector, so the query is the vector of the
	// single item it saw (weight 1); item 20 (weight 2) is much closer
	// than item 30 (weight 9)
	users := table.NewMemTable(table.User).Append(int64(3))
	items := table.NewMemTable(table.Item).Append(int64(20)).Append(int64(30))
	out, err := k.Predict(context.Background(), newLog(), 1, users, items, nil, nil, false)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	item, _ := out.Collect()[0].Int(table.Item)
	assert.Equal(t, int64(20), item)
}

func TestUserVectorQuery(t *testing.T) {
	logTable := table.NewMemTable(table.User, table.Item, table.Relevance).
		Append(int64(1), int64(10), 1.0).
		Append(int64(1), int64(20), 1.0).
		Append(int64(2), int64(20), 1.0)
	userFeatures := table.NewMemTable(table.User, "taste").
		Append(int64(1), 1.0).
		Append(int64(2), 2.0)
	itemFeatures := table.NewMemTable(table.Item, "taste", table.Price).
		Append(int64(10), 1.0, 10.0).
		Append(int64(20), 2.0, 20.0)
	k := New(itemParams())
	require.NoError(t, k.Fit(context.Background(), logTable, userFeatures, itemFeatures))
	// user 1's own vector coincides with item 10, so item 10 wins
	// despite item 20's higher price
	users := table.NewMemTable(table.User).Append(int64(1))
	items := table.NewMemTable(table.Item).Append(int64(10)).Append(int64(20))
	out, err := k.Predict(context.Background(), logTable, 1, users, items, nil, nil, false)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	item, _ := out.Collect()[0].Int(table.Item)
	assert.Equal(t, int64(10), item)
}

func TestNeighborLimitDropsCandidates(t *testing.T) {
	params := itemParams()
	params[model.NNeighbors] = 1
	k := New(params)
	require.NoError(t, k.Fit(context.Background(), newLog(), nil, newItemFeatures()))
	// only the single nearest candidate survives, even though k allows two
	users := table.NewMemTable(table.User).Append(int64(3))
	items := table.NewMemTable(table.Item).Append(int64(20)).Append(int64(30))
	out, err := k.Predict(context.Background(), newLog(), 2, users, items, nil, nil, false)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	item, _ := out.Collect()[0].Int(table.Item)
	assert.Equal(t, int64(20), item)
}

func TestUserBased(t *testing.T) {
	params := itemParams()
	params[model.NeighborMode] = model.UserBased
	params[model.NNeighbors] = 1
	k := New(params)
	require.NoError(t, k.Fit(context.Background(), newLog(), newUserFeatures(), newItemFeatures()))
	// user 1's nearest user is 2, who saw items 20 and 30; item 30 is
	// the one user 1 has not seen
	users := table.NewMemTable(table.User).Append(int64(1))
	items := table.NewMemTable(table.Item).Append(int64(10)).Append(int64(30))
	out, err := k.Predict(context.Background(), newLog(), 2, users, items, nil, nil, true)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	item, _ := out.Collect()[0].Int(table.Item)
	assert.Equal(t, int64(30), item)
	relevance, _ := out.Collect()[0].Float(table.Relevance)
	assert.Greater(t, relevance, 0.0)
}

func TestPriceTipsTheScale(t *testing.T) {
	features := table.NewMemTable(table.Item, "weight", table.Price).
		Append(int64(10), 1.0, 1.0).
		Append(int64(20), 2.0, 1.0).
		Append(int64(30), 3.0, 100.0)
	k := New(itemParams())
	require.NoError(t, k.Fit(context.Background(), newLog(), nil, features))
	users := table.NewMemTable(table.User).Append(int64(3))
	items := table.NewMemTable(table.Item).Append(int64(20)).Append(int64(30))
	out, err := k.Predict(context.Background(), newLog(), 1, users, items, nil, nil, false)
	require.NoError(t, err)
	item, _ := out.Collect()[0].Int(table.Item)
	assert.Equal(t, int64(30), item)
}

func TestMissingFeatureTable(t *testing.T) {
	k := New(itemParams())
	err := k.Fit(context.Background(), newLog(), nil, nil)
	assert.True(t, errors.Is(err, errors.NotFound))

	params := itemParams()
	params[model.NeighborMode] = model.UserBased
	k = New(params)
	err = k.Fit(context.Background(), newLog(), nil, newItemFeatures())
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestInvalidConfiguration(t *testing.T) {
	params := itemParams()
	params[model.Metric] = "mahalanobis"
	k := New(params)
	assert.True(t, errors.Is(k.Fit(context.Background(), newLog(), nil, newItemFeatures()), errors.NotValid))

	params = itemParams()
	params[model.NeighborMode] = "graph-based"
	k = New(params)
	assert.True(t, errors.Is(k.Fit(context.Background(), newLog(), nil, newItemFeatures()), errors.NotValid))
}

func TestUnfeaturedItemNotScored(t *testing.T) {
	// item 30 appears in the log but not in the feature table
	features := table.NewMemTable(table.Item, "weight").
		Append(int64(10), 1.0).
		Append(int64(20), 2.0)
	k := New(itemParams())
	require.NoError(t, k.Fit(context.Background(), newLog(), nil, features))
	users := table.NewMemTable(table.User).Append(int64(3))
	items := table.NewMemTable(table.Item).Append(int64(20)).Append(int64(30))
	out, err := k.Predict(context.Background(), newLog(), 2, users, items, nil, nil, false)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	item, _ := out.Collect()[0].Int(table.Item)
	assert.Equal(t, int64(20), item)
}

func TestPredictBeforeFit(t *testing.T) {
	k := New(itemParams())
	_, err := k.Predict(context.Background(), newLog(), 1, nil, nil, nil, nil, false)
	assert.True(t, errors.Is(err, model.ErrNotFitted))
}

func TestDeterministic(t *testing.T) {
	users := table.NewMemTable(table.User).Append(int64(1)).Append(int64(2)).Append(int64(3))
	items := table.NewMemTable(table.Item).Append(int64(10)).Append(int64(20)).Append(int64(30))
	a := New(itemParams())
	require.NoError(t, a.Fit(context.Background(), newLog(), nil, newItemFeatures()))
	outA, err := a.Predict(context.Background(), newLog(), 3, users, items, nil, nil, false)
	require.NoError(t, err)
	b := New(itemParams())
	require.NoError(t, b.Fit(context.Background(), newLog(), nil, newItemFeatures()))
	outB, err := b.Predict(context.Background(), newLog(), 3, users, items, nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, outA.Collect(), outB.Collect())
}
