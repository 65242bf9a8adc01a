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

	"github.com/chewxy/math32"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/recforge/recforge/base/log"
	"github.com/recforge/recforge/common/nn"
	"github.com/recforge/recforge/model"
	"github.com/recforge/recforge/recommend"
	"github.com/recforge/recforge/table"
)

type attentionBlock struct {
	query   []*nn.LinearLayer
	key     []*nn.LinearLayer
	value   []*nn.LinearLayer
	project *nn.LinearLayer
	ff1     *nn.LinearLayer
	ff2     *nn.LinearLayer
}

func (b *attentionBlock) parameters() []*nn.Tensor {
	params := make([]*nn.Tensor, 0)
	for h := range b.query {
		params = append(params, b.query[h].Parameters()...)
		params = append(params, b.key[h].Parameters()...)
		params = append(params, b.value[h].Parameters()...)
	}
	params = append(params, b.project.Parameters()...)
	params = append(params, b.ff1.Parameters()...)
	params = append(params, b.ff2.Parameters()...)
	return params
}

// Attention is the self-attentive sequence strategy: stacked causal
// attention blocks over each user's recent history, trained on next-item
// prediction with early stopping on a held-out slice of users.
//
// Hyper-parameters:
//
//	EmbeddingDim - The dimension of item embeddings. Default is 32.
//	MaxSeqLen    - The history window length. Default is 20.
//	NHeads       - The number of attention heads. Default is 1.
//	NBlocks      - The number of attention blocks. Default is 1.
//	Dropout      - The dropout rate on attention weights. Default is 0.2.
//	NEpochs      - The maximum number of training epochs. Default is 20.
//	Lr           - The learning rate of Adam. Default is 0.005.
//	ValRatio     - The fraction of windows held out for validation. Default is 0.1.
//	Patience     - Epochs without validation improvement before stopping. Default is 3.
type Attention struct {
	model.BaseModel
	nFactors  int
	maxSeqLen int
	nHeads    int
	nBlocks   int
	dropout   float32
	nEpochs   int
	lr        float32
	valRatio  float32
	patience  int

	headDim       int
	itemEmbedding *nn.EmbeddingLayer
	posEmbedding  *nn.Tensor
	blocks        []*attentionBlock
	outputWeight  *nn.LinearLayer
	causalMask    *nn.Tensor
}

// NewAttention creates a self-attentive sequence strategy.
func NewAttention(params model.Params) *Attention {
	a := new(Attention)
	a.SetParams(params)
	return a
}

func (a *Attention) SetParams(params model.Params) {
	a.BaseModel.SetParams(params)
	a.nFactors = params.GetInt(model.EmbeddingDim, 32)
	a.maxSeqLen = params.GetInt(model.MaxSeqLen, 20)
	a.nHeads = params.GetInt(model.NHeads, 1)
	a.nBlocks = params.GetInt(model.NBlocks, 1)
	a.dropout = params.GetFloat32(model.Dropout, 0.2)
	a.nEpochs = params.GetInt(model.NEpochs, 20)
	a.lr = params.GetFloat32(model.Lr, 0.005)
	a.valRatio = params.GetFloat32(model.ValRatio, 0.1)
	a.patience = params.GetInt(model.Patience, 3)
}

func (a *Attention) parameters() []*nn.Tensor {
	params := a.itemEmbedding.Parameters()
	params = append(params, a.posEmbedding)
	for _, block := range a.blocks {
		params = append(params, block.parameters()...)
	}
	params = append(params, a.outputWeight.Parameters()...)
	return params
}

func (a *Attention) initWeights() {
	rng := a.Rng()
	vocab := a.Data.CountItems() + 1
	headDim := max(a.nFactors/a.nHeads, 1)
	a.headDim = headDim
	a.itemEmbedding = nn.NewEmbedding(rng, vocab, a.nFactors)
	a.posEmbedding = nn.Normal(rng, 0, 0.01, a.maxSeqLen, a.nFactors).RequireGrad()
	a.blocks = make([]*attentionBlock, a.nBlocks)
	for i := range a.blocks {
		block := &attentionBlock{
			project: nn.NewLinear(rng, headDim*a.nHeads, a.nFactors),
			ff1:     nn.NewLinear(rng, a.nFactors, a.nFactors),
			ff2:     nn.NewLinear(rng, a.nFactors, a.nFactors),
		}
		for h := 0; h < a.nHeads; h++ {
			block.query = append(block.query, nn.NewLinear(rng, a.nFactors, headDim))
			block.key = append(block.key, nn.NewLinear(rng, a.nFactors, headDim))
			block.value = append(block.value, nn.NewLinear(rng, a.nFactors, headDim))
		}
		a.blocks[i] = block
	}
	a.outputWeight = nn.NewLinear(rng, a.nFactors, vocab)
	// additive causal mask: position t attends to positions <= t
	mask := nn.Zeros(a.maxSeqLen, a.maxSeqLen)
	for i := 0; i < a.maxSeqLen; i++ {
		for j := i + 1; j < a.maxSeqLen; j++ {
			mask.Data()[i*a.maxSeqLen+j] = -1e9
		}
	}
	a.causalMask = mask
}

// Fit trains with Adam and stops early when validation loss has not
// improved for patience epochs, restoring the best weights seen.
func (a *Attention) Fit(ctx context.Context, logTable table.Table, userFeatures, itemFeatures table.Table) error {
	if err := a.Init(logTable, userFeatures, itemFeatures); err != nil {
		return errors.Trace(err)
	}
	windows := buildWindows(a.Data, a.maxSeqLen)
	if len(windows) == 0 {
		a.Data = nil
		return errors.Trace(errors.New("attention: no training sequences"))
	}
	valSize := int(float32(len(windows)) * a.valRatio)
	train, validation := windows[:len(windows)-valSize], windows[len(windows)-valSize:]
	log.Logger().Info("fit attention",
		zap.Int("n_train", len(train)),
		zap.Int("n_validation", len(validation)),
		zap.Int("n_items", a.Data.CountItems()),
		zap.Any("params", a.GetParams()))

	a.initWeights()
	optimizer := nn.NewAdam(a.parameters(), a.lr)
	bestLoss := float32(math32.Inf(1))
	var best [][]float32
	staleEpochs := 0
	for epoch := 1; epoch <= a.nEpochs; epoch++ {
		cost := float32(0)
		for begin := 0; begin < len(train); begin += batchSize {
			end := min(begin+batchSize, len(train))
			optimizer.ZeroGrad()
			loss := a.forwardLoss(train[begin:end], true)
			loss.Backward()
			optimizer.Step()
			cost += loss.Data()[0] * float32(end-begin)
		}
		valLoss := cost
		if len(train) > 0 {
			valLoss = cost / float32(len(train))
		}
		if len(validation) > 0 {
			valLoss = a.forwardLoss(validation, false).Data()[0]
		}
		log.Logger().Debug("fit attention",
			zap.Int("epoch", epoch),
			zap.Int("n_epochs", a.nEpochs),
			zap.Float32("val_loss", valLoss))
		if valLoss < bestLoss {
			bestLoss = valLoss
			best = snapshot(a.parameters())
			staleEpochs = 0
		} else {
			staleEpochs++
			if staleEpochs >= a.patience {
				log.Logger().Info("early stop", zap.Int("epoch", epoch))
				break
			}
		}
	}
	if best != nil {
		restore(a.parameters(), best)
	}
	return nil
}

func snapshot(params []*nn.Tensor) [][]float32 {
	copies := make([][]float32, len(params))
	for i, p := range params {
		copies[i] = make([]float32, len(p.Data()))
		copy(copies[i], p.Data())
	}
	return copies
}

func restore(params []*nn.Tensor, copies [][]float32) {
	for i, p := range params {
		copy(p.Data(), copies[i])
	}
}

// forward runs the attention stack over a batch of left-padded inputs
// and returns per-position hidden states [b*T, d].
func (a *Attention) forward(inputs []int32, b int, training bool) *nn.Tensor {
	x := a.itemEmbedding.Lookup(inputs, b, a.maxSeqLen)
	x = nn.Add(x, a.posEmbedding)
	scale := 1 / math32.Sqrt(float32(a.headDim))
	for _, block := range a.blocks {
		heads := make([]*nn.Tensor, a.nHeads)
		for h := 0; h < a.nHeads; h++ {
			q := block.query[h].Forward(x)
			k := block.key[h].Forward(x)
			v := block.value[h].Forward(x)
			scores := nn.MulScalar(nn.BatchMatMul(q, k, true), scale)
			weights := nn.Softmax(nn.Add(scores, a.causalMask))
			if training && a.dropout > 0 {
				weights = nn.Dropout(weights, a.dropout, a.Rng())
			}
			heads[h] = nn.BatchMatMul(weights, v, false)
		}
		attended := heads[0]
		if a.nHeads > 1 {
			attended = nn.Concat(heads...)
		}
		x = nn.Add(block.project.Forward(attended), x)
		x = nn.Add(block.ff2.Forward(nn.ReLu(block.ff1.Forward(x))), x)
	}
	return nn.Reshape(x, b*a.maxSeqLen, a.nFactors)
}

func (a *Attention) forwardLoss(batch []window, training bool) *nn.Tensor {
	b := len(batch)
	inputs := make([]int32, 0, b*a.maxSeqLen)
	targets := make([]int32, 0, b*a.maxSeqLen)
	for _, w := range batch {
		inputs = append(inputs, w.inputs...)
		targets = append(targets, w.targets...)
	}
	hidden := a.forward(inputs, b, training)
	logits := a.outputWeight.Forward(hidden)
	return nn.SoftmaxCrossEntropy(logits, targets)
}

func (a *Attention) nextItemProbs(user int32) []float32 {
	inputs := inferenceInput(a.Data, user, a.maxSeqLen)
	hidden := a.forward(inputs, 1, false)
	logits := a.outputWeight.Forward(hidden)
	// final position only
	vocab := a.Data.CountItems() + 1
	data := logits.Data()
	final := data[(a.maxSeqLen-1)*vocab:]
	return softmax32(final, int32(a.Data.CountItems()))
}

// Predict scores candidates with the next-item probability at the end of
// each user's history multiplied by item price.
func (a *Attention) Predict(ctx context.Context, logTable table.Table, k int, users, items table.Table,
	userFeatures, itemFeatures table.Table, filterSeen bool) (table.Table, error) {
	if !a.Fitted() {
		return nil, errors.Trace(model.ErrNotFitted)
	}
	return recommend.Run(a.Data, k, users, items, filterSeen, func(user int32, candidates []int32) []float64 {
		return scoreByDistribution(a.Data, a.nextItemProbs(user))(candidates)
	})
}
