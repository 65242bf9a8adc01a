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

// Package knn implements the neighborhood strategy: nearest neighbors
// over z-score normalized feature vectors, in user-based or item-based
// mode.
package knn

import (
	"context"
	"math"

	"github.com/juju/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/recforge/recforge/base/heap"
	"github.com/recforge/recforge/base/log"
	"github.com/recforge/recforge/common/floats"
	"github.com/recforge/recforge/model"
	"github.com/recforge/recforge/recommend"
	"github.com/recforge/recforge/table"
)

// similarityEpsilon keeps the reciprocal finite for identical vectors.
const similarityEpsilon = 1e-9

// KNN is the neighborhood strategy.
//
// Hyper-parameters:
//
//	NNeighbors   - The number of neighbors. Default is 10.
//	Metric       - One of "cosine", "euclidean", "manhattan". Default is "cosine".
//	NeighborMode - Either "user-based" or "item-based". Default is "item-based".
type KNN struct {
	model.BaseModel
	nNeighbors int
	metric     string
	mode       string

	userVectors [][]float32
	itemVectors [][]float32
}

// New creates a neighborhood strategy.
func New(params model.Params) *KNN {
	k := new(KNN)
	k.SetParams(params)
	return k
}

func (k *KNN) SetParams(params model.Params) {
	k.BaseModel.SetParams(params)
	k.nNeighbors = params.GetInt(model.NNeighbors, 10)
	k.metric = params.GetString(model.Metric, model.MetricCosine)
	k.mode = params.GetString(model.NeighborMode, model.ItemBased)
}

func (k *KNN) distance(a, b []float32) float32 {
	switch k.metric {
	case model.MetricEuclidean:
		return floats.Euclidean(a, b)
	case model.MetricManhattan:
		return floats.Manhattan(a, b)
	default:
		return floats.Cosine(a, b)
	}
}

// normalize z-scores each feature dimension. Entities absent from the
// feature table become all-zero vectors, and constant dimensions end up
// all zero instead of dividing by zero.
func normalize(vectors [][]float32) [][]float32 {
	if vectors == nil {
		return nil
	}
	dims := 0
	for _, v := range vectors {
		if v != nil {
			dims = len(v)
			break
		}
	}
	column := make([]float64, len(vectors))
	normalized := make([][]float32, len(vectors))
	for i := range normalized {
		normalized[i] = make([]float32, dims)
	}
	at := func(v []float32, d int) float64 {
		if v == nil {
			return 0
		}
		return float64(v[d])
	}
	for d := 0; d < dims; d++ {
		for i, v := range vectors {
			column[i] = at(v, d)
		}
		mean, std := stat.MeanStdDev(column, nil)
		if std == 0 || len(vectors) < 2 {
			continue
		}
		for i, v := range vectors {
			normalized[i][d] = float32((at(v, d) - mean) / std)
		}
	}
	return normalized
}

// Fit validates the mode and metric, then z-scores the feature vectors
// the chosen mode depends on. A mode whose feature table is missing
// fails instead of silently scoring everything equal.
func (k *KNN) Fit(ctx context.Context, logTable table.Table, userFeatures, itemFeatures table.Table) error {
	switch k.mode {
	case model.UserBased, model.ItemBased:
	default:
		return errors.NotValidf("neighbor mode %q", k.mode)
	}
	switch k.metric {
	case model.MetricCosine, model.MetricEuclidean, model.MetricManhattan:
	default:
		return errors.NotValidf("metric %q", k.metric)
	}
	if err := k.Init(logTable, userFeatures, itemFeatures); err != nil {
		return errors.Trace(err)
	}
	if k.mode == model.UserBased && k.Data.GetUserFeatures() == nil {
		k.Data = nil
		return errors.NotFoundf("user features for user-based mode")
	}
	if k.mode == model.ItemBased && k.Data.GetItemFeatures() == nil {
		k.Data = nil
		return errors.NotFoundf("item features for item-based mode")
	}
	k.userVectors = normalize(k.Data.GetUserFeatures())
	k.itemVectors = normalize(k.Data.GetItemFeatures())
	log.Logger().Info("fit knn",
		zap.Int("n_users", k.Data.CountUsers()),
		zap.Int("n_items", k.Data.CountItems()),
		zap.Any("params", k.GetParams()))
	return nil
}

// similarity is the reciprocal of distance. Identical vectors saturate
// at 1/epsilon rather than dividing by zero.
func (k *KNN) similarity(a, b []float32) float64 {
	return 1 / (float64(k.distance(a, b)) + similarityEpsilon)
}

// userNeighbors returns the nearest featured users to the target,
// excluding the target itself. Users absent from the feature table
// cannot be placed in feature space and are never neighbors.
func (k *KNN) userNeighbors(user int32) []int32 {
	pq := heap.NewPriorityQueue(true)
	for other := int32(0); other < int32(len(k.userVectors)); other++ {
		if other == user || !k.Data.UserFeatured(other) {
			continue
		}
		pq.Push(other, k.distance(k.userVectors[user], k.userVectors[other]))
		if pq.Len() > k.nNeighbors {
			pq.Pop()
		}
	}
	return pq.Values()
}

func (k *KNN) scoreUserBased(user int32, candidates []int32) []float64 {
	relevances := make([]float64, len(candidates))
	if !k.Data.UserFeatured(user) {
		for i := range relevances {
			relevances[i] = math.NaN()
		}
		return relevances
	}
	neighbors := k.userNeighbors(user)
	seen := k.Data.GetUserSeen()
	for i, item := range candidates {
		var score float64
		for _, n := range neighbors {
			if seen[n].Contains(item) {
				score += k.similarity(k.userVectors[user], k.userVectors[n])
			}
		}
		relevances[i] = score * k.Data.Price(item)
	}
	return relevances
}

// itemQuery places the user in item-feature space: the user's own
// attribute vector when it has the same dimensionality, otherwise the
// mean of the feature vectors of items the user interacted with. Nil
// means the user cannot be placed at all.
func (k *KNN) itemQuery(user int32) []float32 {
	dims := 0
	if len(k.itemVectors) > 0 {
		dims = len(k.itemVectors[0])
	}
	if k.Data.UserFeatured(user) && len(k.userVectors[user]) == dims {
		return k.userVectors[user]
	}
	var query []float32
	count := 0
	for _, item := range k.Data.GetUserFeedback()[user] {
		if !k.Data.ItemFeatured(item) {
			continue
		}
		if query == nil {
			query = make([]float32, dims)
		}
		floats.Add(query, k.itemVectors[item])
		count++
	}
	if count > 1 {
		floats.MulConst(query, 1/float32(count))
	}
	return query
}

// scoreItemBased scores candidates by their proximity to the user's
// query vector, keeping only the nearest nNeighbors candidates.
func (k *KNN) scoreItemBased(user int32, candidates []int32) []float64 {
	relevances := make([]float64, len(candidates))
	for i := range relevances {
		relevances[i] = math.NaN()
	}
	query := k.itemQuery(user)
	if query == nil {
		return relevances
	}
	pq := heap.NewPriorityQueue(true)
	for i, candidate := range candidates {
		if !k.Data.ItemFeatured(candidate) {
			continue
		}
		pq.Push(int32(i), k.distance(query, k.itemVectors[candidate]))
		if pq.Len() > k.nNeighbors {
			pq.Pop()
		}
	}
	for _, e := range pq.Elems() {
		candidate := candidates[e.Value]
		relevances[e.Value] = k.similarity(query, k.itemVectors[candidate]) * k.Data.Price(candidate)
	}
	return relevances
}

// Predict scores candidates by neighbor similarity weighted by item
// price: similarity accumulated over like-minded users in user-based
// mode, direct proximity to the user's query vector in item-based mode.
func (k *KNN) Predict(ctx context.Context, logTable table.Table, kTop int, users, items table.Table,
	userFeatures, itemFeatures table.Table, filterSeen bool) (table.Table, error) {
	if !k.Fitted() {
		return nil, errors.Trace(model.ErrNotFitted)
	}
	score := k.scoreItemBased
	if k.mode == model.UserBased {
		score = k.scoreUserBased
	}
	return recommend.Run(k.Data, kTop, users, items, filterSeen, score)
}
