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

// Package graph implements the bipartite graph embedding strategy: layer
// propagation over the user-item graph trained with a price-weighted
// pairwise ranking (BPR) loss and uniform negative sampling.
package graph

import (
	"context"
	"math"

	"github.com/chewxy/math32"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/recforge/recforge/base"
	"github.com/recforge/recforge/base/log"
	"github.com/recforge/recforge/common/floats"
	"github.com/recforge/recforge/model"
	"github.com/recforge/recforge/recommend"
	"github.com/recforge/recforge/table"
)

// priceExponent dampens the price factor at scoring time. Kept asymmetric
// with the sqrt edge weighting on purpose: both values are business
// tuning, not a principled normalization.
const priceExponent = 0.8

type edge struct {
	user   int32
	item   int32
	weight float32
}

// Graph is the bipartite graph embedding strategy.
//
// Hyper-parameters:
//
//	EmbeddingDim - The dimension of user/item embeddings. Default is 16.
//	NLayers      - The number of propagation layers. Default is 2.
//	NEpochs      - The number of training epochs. Default is 10.
//	Lr           - The learning rate of SGD. Default is 0.05.
type Graph struct {
	model.BaseModel
	nFactors int
	nLayers  int
	nEpochs  int
	lr       float32

	edges []edge
	// layer-0 embeddings, updated by SGD
	userEmbedding [][]float32
	itemEmbedding [][]float32
	// mean over layers 0..L, used for scoring
	userFinal [][]float32
	itemFinal [][]float32
}

// New creates a graph embedding strategy.
func New(params model.Params) *Graph {
	g := new(Graph)
	g.SetParams(params)
	return g
}

func (g *Graph) SetParams(params model.Params) {
	g.BaseModel.SetParams(params)
	g.nFactors = params.GetInt(model.EmbeddingDim, 16)
	g.nLayers = params.GetInt(model.NLayers, 2)
	g.nEpochs = params.GetInt(model.NEpochs, 10)
	g.lr = params.GetFloat32(model.Lr, 0.05)
}

// Fit builds the bipartite graph and trains embeddings with the weighted
// pairwise ranking loss. A log from which no valid edge can be built
// fails fast instead of producing an all-zero model.
func (g *Graph) Fit(ctx context.Context, logTable table.Table, userFeatures, itemFeatures table.Table) error {
	if err := g.Init(logTable, userFeatures, itemFeatures); err != nil {
		return errors.Trace(err)
	}
	g.buildEdges()
	if len(g.edges) == 0 {
		g.Data = nil
		return errors.Trace(errors.New("graph: no valid training edges"))
	}
	log.Logger().Info("fit graph",
		zap.Int("n_edges", len(g.edges)),
		zap.Int("n_users", g.Data.CountUsers()),
		zap.Int("n_items", g.Data.CountItems()),
		zap.Any("params", g.GetParams()))

	rng := g.Rng()
	g.userEmbedding = rng.NormalMatrix(g.Data.CountUsers(), g.nFactors, 0, 0.01)
	g.itemEmbedding = rng.NormalMatrix(g.Data.CountItems(), g.nFactors, 0, 0.01)

	numItems := int32(g.Data.CountItems())
	seen := g.Data.GetUserSeen()
	for epoch := 1; epoch <= g.nEpochs; epoch++ {
		g.propagate()
		cost := float32(0)
		for _, e := range g.edges {
			if int(seen[e.user].Cardinality()) >= int(numItems) {
				// no admissible negative for this user
				continue
			}
			negative := rng.SampleInt32(numItems, seen[e.user])
			posDot := floats.Dot(g.userFinal[e.user], g.itemFinal[e.item])
			negDot := floats.Dot(g.userFinal[e.user], g.itemFinal[negative])
			posScore := sigmoid(posDot)
			negScore := sigmoid(negDot)
			diff := posScore - negScore
			cost += e.weight * math32.Log1p(math32.Exp(-diff))
			// d(-w log sigmoid(diff)) / d(diff)
			grad := e.weight * math32.Exp(-diff) / (1.0 + math32.Exp(-diff))
			posGrad := grad * posScore * (1 - posScore)
			negGrad := grad * negScore * (1 - negScore)
			// pairwise update at the base layer
			floats.MulConstAdd(g.itemFinal[e.item], g.lr*posGrad, g.userEmbedding[e.user])
			floats.MulConstAdd(g.itemFinal[negative], -g.lr*negGrad, g.userEmbedding[e.user])
			floats.MulConstAdd(g.userFinal[e.user], g.lr*posGrad, g.itemEmbedding[e.item])
			floats.MulConstAdd(g.userFinal[e.user], -g.lr*negGrad, g.itemEmbedding[negative])
		}
		log.Logger().Debug("fit graph",
			zap.Int("epoch", epoch),
			zap.Int("n_epochs", g.nEpochs),
			zap.Float32("loss", cost/float32(len(g.edges))))
	}
	g.propagate()
	return nil
}

// buildEdges collects the unique user-item edges with their price-derived
// weights. The edge of the highest-priced item weighs exactly 1.
func (g *Graph) buildEdges() {
	g.edges = g.edges[:0]
	maxPrice := g.Data.MaxPrice()
	added := make(map[int64]struct{})
	for u, items := range g.Data.GetUserFeedback() {
		for _, i := range items {
			key := int64(u)<<32 | int64(i)
			if _, ok := added[key]; ok {
				continue
			}
			added[key] = struct{}{}
			g.edges = append(g.edges, edge{
				user:   int32(u),
				item:   i,
				weight: math32.Sqrt(float32(g.Data.Price(i) / maxPrice)),
			})
		}
	}
}

// propagate aggregates neighbor embeddings for nLayers rounds and stores
// the elementwise mean across layers 0..nLayers. Averaging over every
// layer keeps higher-order signal without over-smoothing.
func (g *Graph) propagate() {
	numUsers, numItems := g.Data.CountUsers(), g.Data.CountItems()
	userLayer := cloneMatrix(g.userEmbedding)
	itemLayer := cloneMatrix(g.itemEmbedding)
	g.userFinal = cloneMatrix(g.userEmbedding)
	g.itemFinal = cloneMatrix(g.itemEmbedding)
	nextUser := base.NewMatrix32(numUsers, g.nFactors)
	nextItem := base.NewMatrix32(numItems, g.nFactors)
	for layer := 0; layer < g.nLayers; layer++ {
		floats.MatZero(nextUser)
		floats.MatZero(nextItem)
		for _, e := range g.edges {
			floats.Add(nextUser[e.user], itemLayer[e.item])
			floats.Add(nextItem[e.item], userLayer[e.user])
		}
		for u := range g.userFinal {
			floats.Add(g.userFinal[u], nextUser[u])
		}
		for i := range g.itemFinal {
			floats.Add(g.itemFinal[i], nextItem[i])
		}
		userLayer, nextUser = nextUser, userLayer
		itemLayer, nextItem = nextItem, itemLayer
	}
	scale := 1 / float32(g.nLayers+1)
	for u := range g.userFinal {
		floats.MulConst(g.userFinal[u], scale)
	}
	for i := range g.itemFinal {
		floats.MulConst(g.itemFinal[i], scale)
	}
}

// Predict scores candidates with sigmoid(dot) damped by the price
// exponent.
func (g *Graph) Predict(ctx context.Context, logTable table.Table, k int, users, items table.Table,
	userFeatures, itemFeatures table.Table, filterSeen bool) (table.Table, error) {
	if !g.Fitted() {
		return nil, errors.Trace(model.ErrNotFitted)
	}
	return recommend.Run(g.Data, k, users, items, filterSeen, func(user int32, items []int32) []float64 {
		scores := make([]float64, len(items))
		for i, item := range items {
			affinity := sigmoid(floats.Dot(g.userFinal[user], g.itemFinal[item]))
			scores[i] = float64(affinity) * math.Pow(g.Data.Price(item), priceExponent)
		}
		return scores
	})
}

// EdgeWeight returns the training edge weight of an item,
// sqrt(price/maxPrice).
func (g *Graph) EdgeWeight(item int32) float32 {
	return math32.Sqrt(float32(g.Data.Price(item) / g.Data.MaxPrice()))
}

func sigmoid(x float32) float32 {
	return 1.0 / (1.0 + math32.Exp(-x))
}

func cloneMatrix(m [][]float32) [][]float32 {
	out := make([][]float32, len(m))
	for i := range m {
		out[i] = make([]float32, len(m[i]))
		copy(out[i], m[i])
	}
	return out
}
