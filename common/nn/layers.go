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

package nn

import (
	"github.com/chewxy/math32"

	"github.com/recforge/recforge/base"
)

type Layer interface {
	Parameters() []*Tensor
	Forward(x *Tensor) *Tensor
}

type LinearLayer struct {
	W *Tensor
	B *Tensor
}

// NewLinear creates a dense layer with Xavier-style initialization.
func NewLinear(rng base.RandomGenerator, in, out int) *LinearLayer {
	bound := math32.Sqrt(6 / float32(in+out))
	w := Zeros(in, out)
	copy(w.data, rng.UniformVector(in*out, -bound, bound))
	return &LinearLayer{
		W: w.RequireGrad(),
		B: Zeros(out).RequireGrad(),
	}
}

// Forward applies x @ W + B. Inputs with more than two dimensions are
// folded to [rows, in] and unfolded afterwards.
func (l *LinearLayer) Forward(x *Tensor) *Tensor {
	in := l.W.shape[0]
	out := l.W.shape[1]
	if len(x.shape) == 2 {
		return Add(MatMul(x, l.W), l.B)
	}
	rows := len(x.data) / in
	folded := Reshape(x, rows, in)
	y := Add(MatMul(folded, l.W), l.B)
	outShape := append([]int{}, x.shape...)
	outShape[len(outShape)-1] = out
	return Reshape(y, outShape...)
}

func (l *LinearLayer) Parameters() []*Tensor {
	return []*Tensor{l.W, l.B}
}

type EmbeddingLayer struct {
	W *Tensor
}

func NewEmbedding(rng base.RandomGenerator, n, dim int) *EmbeddingLayer {
	return &EmbeddingLayer{
		W: Normal(rng, 0, 0.01, n, dim).RequireGrad(),
	}
}

// Lookup gathers embedding rows for the given index tensor shape.
func (e *EmbeddingLayer) Lookup(indices []int32, shape ...int) *Tensor {
	return Embedding(e.W, indices, shape...)
}

func (e *EmbeddingLayer) Forward(x *Tensor) *Tensor {
	panic("nn: EmbeddingLayer expects integer indices, use Lookup")
}

func (e *EmbeddingLayer) Parameters() []*Tensor {
	return []*Tensor{e.W}
}

type Sequential struct {
	layers []Layer
}

func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{layers: layers}
}

func (s *Sequential) Forward(x *Tensor) *Tensor {
	for _, layer := range s.layers {
		x = layer.Forward(x)
	}
	return x
}

func (s *Sequential) Parameters() []*Tensor {
	params := make([]*Tensor, 0)
	for _, layer := range s.layers {
		params = append(params, layer.Parameters()...)
	}
	return params
}
