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

// Package model defines the two-operation contract every scoring strategy
// implements, plus the hyper-parameter surface shared across strategies.
package model

import (
	"context"

	"github.com/juju/errors"

	"github.com/recforge/recforge/base"
	"github.com/recforge/recforge/dataset"
	"github.com/recforge/recforge/table"
)

// ErrNotFitted is returned when Predict is called before a successful Fit.
var ErrNotFitted = errors.New("model: predict called before fit")

// StrategyKind enumerates the closed set of scoring strategies.
type StrategyKind string

const (
	KindGraph        StrategyKind = "graph"
	KindSeqRNN       StrategyKind = "seq_rnn"
	KindSeqAttention StrategyKind = "seq_attention"
	KindNGram        StrategyKind = "ngram"
	KindSimilarity   StrategyKind = "similarity"
	KindBoost        StrategyKind = "boost"
)

// Strategy scores (user, item) candidates. Fit trains against the tabular
// source; Predict returns a table of at most k recommendations per user
// with columns user_idx, item_idx, relevance. Learned state is rebuilt
// from scratch on every Fit and read-only across Predict calls; callers
// serialize Fit against in-flight Predicts on the same instance.
type Strategy interface {
	Fit(ctx context.Context, log table.Table, userFeatures, itemFeatures table.Table) error
	Predict(ctx context.Context, log table.Table, k int, users, items table.Table,
		userFeatures, itemFeatures table.Table, filterSeen bool) (table.Table, error)
}

// BaseModel carries hyper-parameters, the seeded random generator and the
// fitted dataset shared by every strategy.
type BaseModel struct {
	Params Params
	Data   *dataset.Dataset

	rng       base.RandomGenerator
	randState int64
}

// SetParams sets hyper-parameters.
func (b *BaseModel) SetParams(params Params) {
	b.Params = params
	b.randState = params.GetInt64(RandomState, 0)
}

// GetParams returns all hyper-parameters.
func (b *BaseModel) GetParams() Params {
	return b.Params
}

// Init rebuilds shared fit state from the training tables. Discards any
// state left by a previous Fit.
func (b *BaseModel) Init(log table.Table, userFeatures, itemFeatures table.Table) error {
	b.Data = nil
	data, err := dataset.Build(log, userFeatures, itemFeatures)
	if err != nil {
		return errors.Trace(err)
	}
	b.Data = data
	b.rng = base.NewRandomGenerator(b.randState)
	return nil
}

// Fitted reports whether a successful Fit completed.
func (b *BaseModel) Fitted() bool {
	return b.Data != nil
}

// Rng returns the seeded random generator. Valid after Init.
func (b *BaseModel) Rng() base.RandomGenerator {
	return b.rng
}
