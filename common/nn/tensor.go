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

// Package nn is a small define-by-run autograd library backing the
// sequential scoring strategies. Tensors record the op that produced
// them; Backward walks the recorded graph in reverse topological order
// and accumulates gradients.
package nn

import (
	"fmt"
	"strings"

	"github.com/recforge/recforge/base"
)

type Tensor struct {
	data        []float32
	shape       []int
	grad        *Tensor
	op          op
	requireGrad bool
}

func NewTensor(data []float32, shape ...int) *Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}
	if n != len(data) {
		panic(fmt.Sprintf("nn: shape %v does not match data length %d", shape, len(data)))
	}
	return &Tensor{data: data, shape: shape}
}

func NewScalar(data float32) *Tensor {
	return &Tensor{data: []float32{data}, shape: []int{1}}
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape ...int) *Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return &Tensor{data: make([]float32, n), shape: shape}
}

// Ones creates a tensor filled with ones.
func Ones(shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.data {
		t.data[i] = 1
	}
	return t
}

// Normal creates a tensor filled with seeded normal random values.
func Normal(rng base.RandomGenerator, mean, stdDev float32, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.data {
		t.data[i] = float32(rng.NormFloat64())*stdDev + mean
	}
	return t
}

// RequireGrad marks the tensor as a learnable parameter.
func (t *Tensor) RequireGrad() *Tensor {
	t.requireGrad = true
	return t
}

func (t *Tensor) Shape() []int {
	return t.shape
}

func (t *Tensor) Data() []float32 {
	return t.data
}

func (t *Tensor) Grad() *Tensor {
	return t.grad
}

func (t *Tensor) ZeroGrad() {
	t.grad = nil
}

func (t *Tensor) clone() *Tensor {
	newData := make([]float32, len(t.data))
	copy(newData, t.data)
	newShape := make([]int, len(t.shape))
	copy(newShape, t.shape)
	return &Tensor{data: newData, shape: newShape}
}

// Backward computes gradients of t with respect to every tensor that
// requires one. Gradients accumulate, so parameters shared across
// timesteps receive the sum of their per-step gradients.
func (t *Tensor) Backward() {
	t.grad = Ones(t.shape...)
	// reverse topological order
	ordered := make([]*Tensor, 0)
	visited := make(map[*Tensor]bool)
	var visit func(node *Tensor)
	visit = func(node *Tensor) {
		if visited[node] || node.op == nil {
			return
		}
		visited[node] = true
		inputs, _ := node.op.inputsAndOutput()
		for _, input := range inputs {
			visit(input)
		}
		ordered = append(ordered, node)
	}
	visit(t)
	for i := len(ordered) - 1; i >= 0; i-- {
		node := ordered[i]
		inputs, output := node.op.inputsAndOutput()
		grads := node.op.backward(output.grad)
		for j, input := range inputs {
			if grads[j] == nil {
				continue
			}
			if input.grad == nil {
				input.grad = grads[j]
			} else {
				for k := range input.grad.data {
					input.grad.data[k] += grads[j].data[k]
				}
			}
		}
	}
	// intermediate gradients are only needed during the walk
	for _, node := range ordered {
		if node != t && !node.requireGrad {
			node.grad = nil
		}
		inputs, _ := node.op.inputsAndOutput()
		for _, input := range inputs {
			if input.op == nil && !input.requireGrad {
				input.grad = nil
			}
		}
	}
}

func (t *Tensor) String() string {
	builder := strings.Builder{}
	builder.WriteString("[")
	limit := len(t.data)
	if limit > 10 {
		limit = 10
	}
	for i := 0; i < limit; i++ {
		builder.WriteString(fmt.Sprint(t.data[i]))
		if i != limit-1 {
			builder.WriteString(", ")
		}
	}
	if len(t.data) > 10 {
		builder.WriteString(", ...")
	}
	builder.WriteString("]")
	return builder.String()
}
