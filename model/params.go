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

package model

import (
	"reflect"

	"go.uber.org/zap"

	"github.com/recforge/recforge/base/log"
)

// ParamName is the type of hyper-parameter names.
type ParamName string

// Predefined hyper-parameter names. Each strategy reads only the subset
// relevant to it.
const (
	EmbeddingDim ParamName = "embedding_dim"
	NLayers      ParamName = "n_layers"
	NEpochs      ParamName = "n_epochs"
	Lr           ParamName = "lr"
	MaxSeqLen    ParamName = "max_seq_len"
	NHeads       ParamName = "n_heads"
	NBlocks      ParamName = "n_blocks"
	Dropout      ParamName = "dropout"
	Order        ParamName = "order"
	Smoothing    ParamName = "smoothing"
	AddK         ParamName = "add_k"
	NNeighbors   ParamName = "n_neighbors"
	Metric       ParamName = "metric"
	NeighborMode ParamName = "neighbor_mode"
	NTrees       ParamName = "n_trees"
	MaxDepth     ParamName = "max_depth"
	Shrinkage    ParamName = "shrinkage"
	RandomState  ParamName = "random_state"
	Patience     ParamName = "patience"
	ValRatio     ParamName = "val_ratio"
)

// Smoothing kinds.
const (
	SmoothingAddK    = "add_k"
	SmoothingBackoff = "backoff"
)

// Distance metrics.
const (
	MetricCosine    = "cosine"
	MetricEuclidean = "euclidean"
	MetricManhattan = "manhattan"
)

// Neighbor modes.
const (
	UserBased = "user-based"
	ItemBased = "item-based"
)

// Params stores hyper-parameters for a strategy as a map between names
// and values.
type Params map[ParamName]interface{}

// GetInt gets an integer parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetInt(name ParamName, _default int) int {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int:
			return val
		case int64:
			return int(val)
		default:
			log.Logger().Error("params: type mismatch",
				zap.String("name", string(name)),
				zap.String("expect", "int"),
				zap.String("actual", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

// GetInt64 gets an int64 parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetInt64(name ParamName, _default int64) int64 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case int64:
			return val
		case int:
			return int64(val)
		default:
			log.Logger().Error("params: type mismatch",
				zap.String("name", string(name)),
				zap.String("expect", "int64"),
				zap.String("actual", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

// GetFloat32 gets a float parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetFloat32(name ParamName, _default float32) float32 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case float32:
			return val
		case float64:
			return float32(val)
		case int:
			return float32(val)
		default:
			log.Logger().Error("params: type mismatch",
				zap.String("name", string(name)),
				zap.String("expect", "float32"),
				zap.String("actual", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

// GetFloat64 gets a float parameter by name. Returns _default if not exists or type doesn't match.
func (parameters Params) GetFloat64(name ParamName, _default float64) float64 {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case float64:
			return val
		case float32:
			return float64(val)
		case int:
			return float64(val)
		default:
			log.Logger().Error("params: type mismatch",
				zap.String("name", string(name)),
				zap.String("expect", "float64"),
				zap.String("actual", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

// GetString gets a string parameter. Returns _default if not exists or type doesn't match.
func (parameters Params) GetString(name ParamName, _default string) string {
	if val, exist := parameters[name]; exist {
		switch val := val.(type) {
		case string:
			return val
		default:
			log.Logger().Error("params: type mismatch",
				zap.String("name", string(name)),
				zap.String("expect", "string"),
				zap.String("actual", reflect.TypeOf(val).String()))
		}
	}
	return _default
}

// Overwrite returns a copy with params merged on top of parameters.
func (parameters Params) Overwrite(params Params) Params {
	merged := make(Params)
	for k, v := range parameters {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}
