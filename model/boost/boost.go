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

// Package boost implements the learning-to-rank strategy: gradient
// boosted regression trees over concatenated user features, item
// features and price, fitted to observed relevance.
package boost

import (
	"context"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/recforge/recforge/base/log"
	"github.com/recforge/recforge/model"
	"github.com/recforge/recforge/recommend"
	"github.com/recforge/recforge/table"
)

// Boost is the learning-to-rank strategy.
//
// Hyper-parameters:
//
//	NTrees    - The number of boosting rounds. Default is 50.
//	MaxDepth  - The maximum tree depth. Default is 3.
//	Shrinkage - The learning rate applied to each tree. Default is 0.1.
type Boost struct {
	model.BaseModel
	nTrees    int
	maxDepth  int
	shrinkage float64

	base     float64
	trees    []*node
	userDims int
	itemDims int
}

// New creates a learning-to-rank strategy.
func New(params model.Params) *Boost {
	b := new(Boost)
	b.SetParams(params)
	return b
}

func (b *Boost) SetParams(params model.Params) {
	b.BaseModel.SetParams(params)
	b.nTrees = params.GetInt(model.NTrees, 50)
	b.maxDepth = params.GetInt(model.MaxDepth, 3)
	b.shrinkage = params.GetFloat64(model.Shrinkage, 0.1)
}

func dims(vectors [][]float32) int {
	for _, v := range vectors {
		if v != nil {
			return len(v)
		}
	}
	return 0
}

// featureVector concatenates user features, item features and price.
// Entities absent from a feature table contribute zeros so every sample
// has the same width.
func (b *Boost) featureVector(user, item int32) []float64 {
	vector := make([]float64, b.userDims+b.itemDims+1)
	for i, v := range b.Data.GetUserFeatures()[user] {
		vector[i] = float64(v)
	}
	for i, v := range b.Data.GetItemFeatures()[item] {
		vector[b.userDims+i] = float64(v)
	}
	vector[b.userDims+b.itemDims] = b.Data.Price(item)
	return vector
}

// Fit boosts regression trees on the residuals of observed relevance.
// Both feature tables are required, the model has no collaborative
// signal to fall back on.
func (b *Boost) Fit(ctx context.Context, logTable table.Table, userFeatures, itemFeatures table.Table) error {
	if err := b.Init(logTable, userFeatures, itemFeatures); err != nil {
		return errors.Trace(err)
	}
	if b.Data.GetUserFeatures() == nil {
		b.Data = nil
		return errors.NotFoundf("user features")
	}
	if b.Data.GetItemFeatures() == nil {
		b.Data = nil
		return errors.NotFoundf("item features")
	}
	b.userDims = dims(b.Data.GetUserFeatures())
	b.itemDims = dims(b.Data.GetItemFeatures())
	samples := make([][]float64, 0, b.Data.CountFeedback())
	targets := make([]float64, 0, b.Data.CountFeedback())
	relevance := b.Data.GetUserRelevance()
	for user, history := range b.Data.GetUserFeedback() {
		for pos, item := range history {
			samples = append(samples, b.featureVector(int32(user), item))
			targets = append(targets, relevance[user][pos])
		}
	}
	log.Logger().Info("fit boost",
		zap.Int("n_samples", len(samples)),
		zap.Int("n_features", len(samples[0])),
		zap.Any("params", b.GetParams()))

	b.base = mean(targets)
	residuals := make([]float64, len(targets))
	predictions := make([]float64, len(targets))
	for i := range predictions {
		predictions[i] = b.base
	}
	b.trees = make([]*node, 0, b.nTrees)
	indices := make([]int, len(samples))
	for i := range indices {
		indices[i] = i
	}
	for round := 0; round < b.nTrees; round++ {
		for i := range residuals {
			residuals[i] = targets[i] - predictions[i]
		}
		tree := buildTree(samples, residuals, indices, b.maxDepth)
		b.trees = append(b.trees, tree)
		for i, x := range samples {
			predictions[i] += b.shrinkage * tree.predict(x)
		}
	}
	return nil
}

func (b *Boost) score(x []float64) float64 {
	score := b.base
	for _, tree := range b.trees {
		score += b.shrinkage * tree.predict(x)
	}
	return score
}

// Predict scores candidates with the boosted ensemble.
func (b *Boost) Predict(ctx context.Context, logTable table.Table, k int, users, items table.Table,
	userFeatures, itemFeatures table.Table, filterSeen bool) (table.Table, error) {
	if !b.Fitted() {
		return nil, errors.Trace(model.ErrNotFitted)
	}
	return recommend.Run(b.Data, k, users, items, filterSeen, func(user int32, candidates []int32) []float64 {
		relevances := make([]float64, len(candidates))
		for i, item := range candidates {
			relevances[i] = b.score(b.featureVector(user, item))
		}
		return relevances
	})
}

func mean(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	if len(values) == 0 {
		return 0
	}
	return total / float64(len(values))
}
