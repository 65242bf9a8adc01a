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

// Package ngram implements the n-gram sequence strategy: conditional
// next-item counts over fixed-length contexts with either additive
// smoothing or backoff to shorter contexts.
package ngram

import (
	"context"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/recforge/recforge/base/log"
	"github.com/recforge/recforge/model"
	"github.com/recforge/recforge/recommend"
	"github.com/recforge/recforge/table"
)

// NGram is the n-gram sequence strategy.
//
// Hyper-parameters:
//
//	Order     - The context length. Default is 2.
//	Smoothing - Either "add_k" or "backoff". Default is "add_k".
//	AddK      - The additive smoothing constant. Default is 1.
type NGram struct {
	model.BaseModel
	order     int
	smoothing string
	addK      float64

	// counts[n] maps a length-n context key to next-item counts
	counts []map[string]map[int32]float64
	// contextTotals[n] maps a length-n context key to its total count
	contextTotals []map[string]float64
	unigrams      map[int32]float64
	unigramTotal  float64
}

// New creates an n-gram strategy.
func New(params model.Params) *NGram {
	n := new(NGram)
	n.SetParams(params)
	return n
}

func (n *NGram) SetParams(params model.Params) {
	n.BaseModel.SetParams(params)
	n.order = params.GetInt(model.Order, 2)
	n.smoothing = params.GetString(model.Smoothing, model.SmoothingAddK)
	n.addK = params.GetFloat64(model.AddK, 1)
}

func contextKey(context []int32) string {
	parts := make([]string, len(context))
	for i, v := range context {
		parts[i] = strconv.Itoa(int(v))
	}
	return strings.Join(parts, ",")
}

// Fit counts next-item transitions for every context length from 1 up
// to the configured order, plus global unigram counts.
func (n *NGram) Fit(ctx context.Context, logTable table.Table, userFeatures, itemFeatures table.Table) error {
	if err := n.Init(logTable, userFeatures, itemFeatures); err != nil {
		return errors.Trace(err)
	}
	n.counts = make([]map[string]map[int32]float64, n.order+1)
	n.contextTotals = make([]map[string]float64, n.order+1)
	for length := 1; length <= n.order; length++ {
		n.counts[length] = make(map[string]map[int32]float64)
		n.contextTotals[length] = make(map[string]float64)
	}
	n.unigrams = make(map[int32]float64)
	n.unigramTotal = 0
	for _, history := range n.Data.GetUserFeedback() {
		for _, item := range history {
			n.unigrams[item]++
			n.unigramTotal++
		}
		for pos := 1; pos < len(history); pos++ {
			for length := 1; length <= n.order && length <= pos; length++ {
				key := contextKey(history[pos-length : pos])
				bucket := n.counts[length][key]
				if bucket == nil {
					bucket = make(map[int32]float64)
					n.counts[length][key] = bucket
				}
				bucket[history[pos]]++
				n.contextTotals[length][key]++
			}
		}
	}
	log.Logger().Info("fit ngram",
		zap.Int("n_users", n.Data.CountUsers()),
		zap.Int("n_items", n.Data.CountItems()),
		zap.Int("n_contexts", len(n.counts[n.order])),
		zap.Any("params", n.GetParams()))
	return nil
}

// probAddK applies additive smoothing over the full-order context:
// (count + k) / (total + k * |items|).
func (n *NGram) probAddK(key string, item int32) float64 {
	numItems := float64(n.Data.CountItems())
	var count, total float64
	if bucket, ok := n.counts[n.order][key]; ok {
		count = bucket[item]
		total = n.contextTotals[n.order][key]
	}
	return (count + n.addK) / (total + n.addK*numItems)
}

// probBackoff returns the maximum-likelihood estimate at the longest
// context that ever observed this item, falling back to the global
// unigram frequency (0 for an item never observed at all).
func (n *NGram) probBackoff(context []int32, item int32) float64 {
	for length := min(n.order, len(context)); length >= 1; length-- {
		key := contextKey(context[len(context)-length:])
		if count := n.counts[length][key][item]; count > 0 {
			return count / n.contextTotals[length][key]
		}
	}
	if n.unigramTotal == 0 {
		return 0
	}
	return n.unigrams[item] / n.unigramTotal
}

// Prob returns the smoothed probability of item following context.
func (n *NGram) Prob(context []int32, item int32) (float64, error) {
	switch n.smoothing {
	case model.SmoothingAddK:
		if len(context) < n.order {
			// not enough history for a full-order context, fall back
			// to the unigram estimate with the same smoothing
			count := n.unigrams[item]
			return (count + n.addK) / (n.unigramTotal + n.addK*float64(n.Data.CountItems())), nil
		}
		return n.probAddK(contextKey(context[len(context)-n.order:]), item), nil
	case model.SmoothingBackoff:
		return n.probBackoff(context, item), nil
	default:
		return 0, errors.NotValidf("smoothing %q", n.smoothing)
	}
}

// Predict scores candidates with the smoothed next-item probability
// given the tail of the user's history, multiplied by item price. An
// unsupported smoothing mode fails the call.
func (n *NGram) Predict(ctx context.Context, logTable table.Table, k int, users, items table.Table,
	userFeatures, itemFeatures table.Table, filterSeen bool) (table.Table, error) {
	if !n.Fitted() {
		return nil, errors.Trace(model.ErrNotFitted)
	}
	if n.smoothing != model.SmoothingAddK && n.smoothing != model.SmoothingBackoff {
		return nil, errors.NotValidf("smoothing %q", n.smoothing)
	}
	return recommend.Run(n.Data, k, users, items, filterSeen, func(user int32, candidates []int32) []float64 {
		history := n.Data.GetUserFeedback()[user]
		relevances := make([]float64, len(candidates))
		for i, item := range candidates {
			prob, _ := n.Prob(history, item)
			relevances[i] = prob * n.Data.Price(item)
		}
		return relevances
	})
}
