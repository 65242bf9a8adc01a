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

package seq

import (
	"context"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/recforge/recforge/base/log"
	"github.com/recforge/recforge/common/nn"
	"github.com/recforge/recforge/model"
	"github.com/recforge/recforge/recommend"
	"github.com/recforge/recforge/table"
)

const batchSize = 32

// RNN is the recurrent sequence strategy: an Elman network over each
// user's recent history trained on next-item prediction.
//
// Hyper-parameters:
//
//	EmbeddingDim - The dimension of item embeddings and the hidden state. Default is 32.
//	MaxSeqLen    - The history window length. Default is 20.
//	NEpochs      - The number of training epochs. Default is 10.
//	Lr           - The learning rate of Adam. Default is 0.01.
type RNN struct {
	model.BaseModel
	nFactors  int
	maxSeqLen int
	nEpochs   int
	lr        float32

	itemEmbedding *nn.EmbeddingLayer
	inputWeight   *nn.LinearLayer
	hiddenWeight  *nn.LinearLayer
	outputWeight  *nn.LinearLayer
}

// NewRNN creates a recurrent sequence strategy.
func NewRNN(params model.Params) *RNN {
	r := new(RNN)
	r.SetParams(params)
	return r
}

func (r *RNN) SetParams(params model.Params) {
	r.BaseModel.SetParams(params)
	r.nFactors = params.GetInt(model.EmbeddingDim, 32)
	r.maxSeqLen = params.GetInt(model.MaxSeqLen, 20)
	r.nEpochs = params.GetInt(model.NEpochs, 10)
	r.lr = params.GetFloat32(model.Lr, 0.01)
}

func (r *RNN) parameters() []*nn.Tensor {
	return nn.NewSequential(r.itemEmbedding, r.inputWeight, r.hiddenWeight, r.outputWeight).Parameters()
}

// Fit trains next-item prediction over every user window. Users with
// fewer than two events contribute nothing to training but still receive
// predictions afterwards. A log from which no window can be built fails
// fast instead of serving the untrained weights.
func (r *RNN) Fit(ctx context.Context, logTable table.Table, userFeatures, itemFeatures table.Table) error {
	if err := r.Init(logTable, userFeatures, itemFeatures); err != nil {
		return errors.Trace(err)
	}
	windows := buildWindows(r.Data, r.maxSeqLen)
	if len(windows) == 0 {
		r.Data = nil
		return errors.Trace(errors.New("rnn: no training sequences"))
	}
	log.Logger().Info("fit rnn",
		zap.Int("n_windows", len(windows)),
		zap.Int("n_users", r.Data.CountUsers()),
		zap.Int("n_items", r.Data.CountItems()),
		zap.Any("params", r.GetParams()))

	rng := r.Rng()
	vocab := r.Data.CountItems() + 1 // items plus the padding token
	r.itemEmbedding = nn.NewEmbedding(rng, vocab, r.nFactors)
	r.inputWeight = nn.NewLinear(rng, r.nFactors, r.nFactors)
	r.hiddenWeight = nn.NewLinear(rng, r.nFactors, r.nFactors)
	r.outputWeight = nn.NewLinear(rng, r.nFactors, vocab)

	optimizer := nn.NewAdam(r.parameters(), r.lr)
	for epoch := 1; epoch <= r.nEpochs; epoch++ {
		cost := float32(0)
		for begin := 0; begin < len(windows); begin += batchSize {
			end := min(begin+batchSize, len(windows))
			optimizer.ZeroGrad()
			loss := r.forwardLoss(windows[begin:end])
			loss.Backward()
			optimizer.Step()
			cost += loss.Data()[0] * float32(end-begin)
		}
		log.Logger().Debug("fit rnn",
			zap.Int("epoch", epoch),
			zap.Int("n_epochs", r.nEpochs),
			zap.Float32("loss", cost/float32(len(windows))))
	}
	return nil
}

// forwardLoss unrolls the network over a batch of windows and returns
// the mean cross entropy over non-padding positions.
func (r *RNN) forwardLoss(batch []window) *nn.Tensor {
	b := len(batch)
	hidden := nn.Zeros(b, r.nFactors)
	states := make([]*nn.Tensor, 0, r.maxSeqLen)
	for t := 0; t < r.maxSeqLen; t++ {
		indices := make([]int32, b)
		for i, w := range batch {
			indices[i] = w.inputs[t]
		}
		x := r.itemEmbedding.Lookup(indices, b)
		hidden = nn.Tanh(nn.Add(r.inputWeight.Forward(x), r.hiddenWeight.Forward(hidden)))
		states = append(states, hidden)
	}
	// [b, T*h] -> [b*T, h], position-major within each row
	stacked := nn.Reshape(nn.Concat(states...), b*r.maxSeqLen, r.nFactors)
	logits := r.outputWeight.Forward(stacked)
	targets := make([]int32, 0, b*r.maxSeqLen)
	for _, w := range batch {
		targets = append(targets, w.targets...)
	}
	return nn.SoftmaxCrossEntropy(logits, targets)
}

// nextItemProbs runs a single user window forward and returns the
// next-item distribution at the final position.
func (r *RNN) nextItemProbs(user int32) []float32 {
	inputs := inferenceInput(r.Data, user, r.maxSeqLen)
	hidden := nn.Zeros(1, r.nFactors)
	for t := 0; t < r.maxSeqLen; t++ {
		x := r.itemEmbedding.Lookup([]int32{inputs[t]}, 1)
		hidden = nn.Tanh(nn.Add(r.inputWeight.Forward(x), r.hiddenWeight.Forward(hidden)))
	}
	logits := r.outputWeight.Forward(hidden)
	return softmax32(logits.Data(), int32(r.Data.CountItems()))
}

// Predict scores candidates with the next-item probability at the end of
// each user's history multiplied by item price.
func (r *RNN) Predict(ctx context.Context, logTable table.Table, k int, users, items table.Table,
	userFeatures, itemFeatures table.Table, filterSeen bool) (table.Table, error) {
	if !r.Fitted() {
		return nil, errors.Trace(model.ErrNotFitted)
	}
	return recommend.Run(r.Data, k, users, items, filterSeen, func(user int32, candidates []int32) []float64 {
		return scoreByDistribution(r.Data, r.nextItemProbs(user))(candidates)
	})
}
