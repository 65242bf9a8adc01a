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

// Package recforge ties the scoring strategies together: a factory over
// the closed strategy set and an engine that owns one strategy plus the
// session it runs under.
package recforge

import (
	"context"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/recforge/recforge/model"
	"github.com/recforge/recforge/model/boost"
	"github.com/recforge/recforge/model/graph"
	"github.com/recforge/recforge/model/knn"
	"github.com/recforge/recforge/model/ngram"
	"github.com/recforge/recforge/model/seq"
	"github.com/recforge/recforge/table"
)

// Session carries the dependencies an engine runs with, injected
// explicitly instead of read from process globals.
type Session struct {
	Logger     *zap.Logger
	RandomSeed int64
}

// NewSession creates a session with a no-op logger.
func NewSession(seed int64) Session {
	return Session{Logger: zap.NewNop(), RandomSeed: seed}
}

// NewStrategy constructs a scoring strategy by kind. Kinds outside the
// closed set fail instead of defaulting.
func NewStrategy(kind model.StrategyKind, params model.Params) (model.Strategy, error) {
	switch kind {
	case model.KindGraph:
		return graph.New(params), nil
	case model.KindSeqRNN:
		return seq.NewRNN(params), nil
	case model.KindSeqAttention:
		return seq.NewAttention(params), nil
	case model.KindNGram:
		return ngram.New(params), nil
	case model.KindSimilarity:
		return knn.New(params), nil
	case model.KindBoost:
		return boost.New(params), nil
	default:
		return nil, errors.NotValidf("strategy kind %q", kind)
	}
}

// Engine owns one strategy instance and serializes its lifecycle: Fit
// rebuilds learned state, Predict reads it.
type Engine struct {
	session  Session
	strategy model.Strategy
}

// NewEngine creates an engine for the given strategy kind. The session
// seed overrides RandomState unless the params set one explicitly.
func NewEngine(session Session, kind model.StrategyKind, params model.Params) (*Engine, error) {
	if params == nil {
		params = model.Params{}
	}
	if _, ok := params[model.RandomState]; !ok {
		params = params.Overwrite(model.Params{model.RandomState: session.RandomSeed})
	}
	strategy, err := NewStrategy(kind, params)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Engine{session: session, strategy: strategy}, nil
}

// Strategy exposes the wrapped strategy.
func (e *Engine) Strategy() model.Strategy {
	return e.strategy
}

// Fit trains the strategy on the interaction log and feature tables.
func (e *Engine) Fit(ctx context.Context, log table.Table, userFeatures, itemFeatures table.Table) error {
	e.session.Logger.Info("engine fit")
	return errors.Trace(e.strategy.Fit(ctx, log, userFeatures, itemFeatures))
}

// Predict returns at most k recommendations per requested user.
func (e *Engine) Predict(ctx context.Context, log table.Table, k int, users, items table.Table,
	userFeatures, itemFeatures table.Table, filterSeen bool) (table.Table, error) {
	e.session.Logger.Info("engine predict", zap.Int("k", k))
	out, err := e.strategy.Predict(ctx, log, k, users, items, userFeatures, itemFeatures, filterSeen)
	return out, errors.Trace(err)
}
