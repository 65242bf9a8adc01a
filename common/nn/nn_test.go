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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/recforge/recforge/base"
)

const gradEpsilon = 1e-2

// checkGradient compares the analytic gradient of a scalar loss with a
// central finite difference over every element of x.
func checkGradient(t *testing.T, loss func(x *Tensor) *Tensor, x *Tensor) {
	x.RequireGrad()
	x.ZeroGrad()
	y := loss(x)
	assert.Equal(t, []int{1}, y.Shape())
	y.Backward()
	analytic := x.Grad()
	assert.NotNil(t, analytic)
	const h = 1e-2
	for i := range x.data {
		orig := x.data[i]
		x.data[i] = orig + h
		up := loss(x).data[0]
		x.data[i] = orig - h
		down := loss(x).data[0]
		x.data[i] = orig
		numeric := (up - down) / (2 * h)
		assert.InDelta(t, numeric, analytic.data[i], gradEpsilon, "element %d", i)
	}
}

func TestAddBroadcast(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := NewTensor([]float32{10, 20, 30}, 3)
	y := Add(x, b)
	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, y.Data())
}

func TestAddBackwardAccumulates(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3).RequireGrad()
	b := NewTensor([]float32{10, 20, 30}, 3).RequireGrad()
	loss := Sum(Add(x, b))
	loss.Backward()
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, x.Grad().Data())
	// broadcast rows sum into the bias gradient
	assert.Equal(t, []float32{2, 2, 2}, b.Grad().Data())
}

func TestMulGradient(t *testing.T) {
	x := NewTensor([]float32{1, -2, 3, 0.5}, 2, 2)
	w := NewTensor([]float32{2, -1}, 2)
	checkGradient(t, func(x *Tensor) *Tensor {
		return Sum(Mul(x, w))
	}, x)
}

func TestMatMulGradient(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	w := NewTensor([]float32{0.1, 0.2, -0.3, 0.4, 0.5, -0.6}, 3, 2)
	checkGradient(t, func(x *Tensor) *Tensor {
		return Sum(MatMul(x, w))
	}, x)
	checkGradient(t, func(w *Tensor) *Tensor {
		return Sum(MatMul(x, w))
	}, w)
}

func TestBatchMatMul(t *testing.T) {
	// x [1,2,3] @ y^T with y [1,2,3] -> [1,2,2]
	x := NewTensor([]float32{1, 0, 0, 0, 1, 0}, 1, 2, 3)
	y := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 1, 2, 3)
	z := BatchMatMul(x, y, true)
	assert.Equal(t, []int{1, 2, 2}, z.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5}, z.Data())

	checkGradient(t, func(x *Tensor) *Tensor {
		return Sum(BatchMatMul(x, y, true))
	}, x)
	w := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 1, 3, 2)
	checkGradient(t, func(w *Tensor) *Tensor {
		return Sum(BatchMatMul(x, w, false))
	}, w)
}

func TestTanhGradient(t *testing.T) {
	x := NewTensor([]float32{-1, -0.5, 0, 0.5, 1}, 5)
	checkGradient(t, func(x *Tensor) *Tensor {
		return Sum(Tanh(x))
	}, x)
}

func TestReLu(t *testing.T) {
	x := NewTensor([]float32{-2, -1, 1, 2}, 4)
	y := ReLu(x)
	assert.Equal(t, []float32{0, 0, 1, 2}, y.Data())
}

func TestSoftmax(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 1, 1, 1}, 2, 3)
	y := Softmax(x)
	for r := 0; r < 2; r++ {
		var total float32
		for i := 0; i < 3; i++ {
			total += y.Data()[r*3+i]
		}
		assert.InDelta(t, 1.0, total, 1e-5)
	}
	assert.InDelta(t, 1.0/3, y.Data()[3], 1e-5)
}

func TestSoftmaxGradient(t *testing.T) {
	x := NewTensor([]float32{0.5, -0.5, 1, 2}, 2, 2)
	w := NewTensor([]float32{1, 2}, 2)
	checkGradient(t, func(x *Tensor) *Tensor {
		return Sum(Mul(Softmax(x), w))
	}, x)
}

func TestSoftmaxCrossEntropy(t *testing.T) {
	logits := NewTensor([]float32{10, 0, 0, 0, 10, 0}, 2, 3)
	loss := SoftmaxCrossEntropy(logits, []int32{0, 1})
	assert.Less(t, loss.Data()[0], float32(0.01))

	wrong := SoftmaxCrossEntropy(logits, []int32{1, 0})
	assert.Greater(t, wrong.Data()[0], float32(5))
}

func TestSoftmaxCrossEntropyIgnoresPadding(t *testing.T) {
	logits := NewTensor([]float32{10, 0, 0, -50, -50, 100}, 2, 3)
	// the second row would dominate the loss but its target is padding
	loss := SoftmaxCrossEntropy(logits, []int32{0, -1})
	assert.Less(t, loss.Data()[0], float32(0.01))

	logits = NewTensor([]float32{10, 0, 0, -50, -50, 100}, 2, 3)
	loss = SoftmaxCrossEntropy(logits, []int32{0, -1})
	loss.Backward()
}

func TestSoftmaxCrossEntropyGradient(t *testing.T) {
	logits := NewTensor([]float32{0.5, -0.5, 0.2, 1, 0, -1}, 2, 3)
	checkGradient(t, func(x *Tensor) *Tensor {
		return SoftmaxCrossEntropy(x, []int32{2, -1})
	}, logits)
}

func TestEmbedding(t *testing.T) {
	w := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 3, 2).RequireGrad()
	y := Embedding(w, []int32{2, 0, 2}, 3)
	assert.Equal(t, []int{3, 2}, y.Shape())
	assert.Equal(t, []float32{5, 6, 1, 2, 5, 6}, y.Data())

	loss := Sum(y)
	loss.Backward()
	// row 2 is gathered twice so its gradient accumulates
	assert.Equal(t, []float32{1, 1, 0, 0, 2, 2}, w.Grad().Data())
}

func TestReshape(t *testing.T) {
	x := NewTensor([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	y := Reshape(x, 3, 2)
	assert.Equal(t, []int{3, 2}, y.Shape())
	assert.Panics(t, func() { Reshape(x, 4, 2) })
}

func TestConcat(t *testing.T) {
	a := NewTensor([]float32{1, 2, 5, 6}, 2, 2).RequireGrad()
	b := NewTensor([]float32{3, 7}, 2, 1).RequireGrad()
	y := Concat(a, b)
	assert.Equal(t, []int{2, 3}, y.Shape())
	assert.Equal(t, []float32{1, 2, 3, 5, 6, 7}, y.Data())

	Sum(y).Backward()
	assert.Equal(t, []float32{1, 1, 1, 1}, a.Grad().Data())
	assert.Equal(t, []float32{1, 1}, b.Grad().Data())
}

func TestDropout(t *testing.T) {
	rng := base.NewRandomGenerator(42)
	x := Ones(1000)
	y := Dropout(x, 0.5, rng)
	zeros := 0
	for _, v := range y.Data() {
		if v == 0 {
			zeros++
		} else {
			assert.InDelta(t, 2.0, v, 1e-5)
		}
	}
	assert.InDelta(t, 500, zeros, 100)

	identity := Dropout(x, 0, rng)
	assert.Equal(t, x.Data(), identity.Data())
}

func TestSharedParameterAccumulation(t *testing.T) {
	// the same weight used at two steps receives summed gradients
	w := NewTensor([]float32{2}, 1).RequireGrad()
	x := NewTensor([]float32{3}, 1)
	h := Mul(x, w)
	y := Mul(h, w)
	Sum(y).Backward()
	// d(3w^2)/dw = 6w = 12
	assert.InDelta(t, 12.0, w.Grad().Data()[0], 1e-4)
}

func TestLinearLayer(t *testing.T) {
	rng := base.NewRandomGenerator(1)
	layer := NewLinear(rng, 4, 3)
	x := Normal(rng, 0, 1, 2, 5, 4)
	y := layer.Forward(x)
	assert.Equal(t, []int{2, 5, 3}, y.Shape())
	assert.Len(t, layer.Parameters(), 2)
}

func TestSGDConverges(t *testing.T) {
	rng := base.NewRandomGenerator(0)
	w := Normal(rng, 0, 0.1, 1).RequireGrad()
	optimizer := NewSGD([]*Tensor{w}, 0.1)
	// minimize (3w - 6)^2 expanded as 9w^2 - 36w + 36
	for i := 0; i < 200; i++ {
		optimizer.ZeroGrad()
		a := Mul(Mul(w, w), NewTensor([]float32{9}, 1))
		b := Mul(w, NewTensor([]float32{-36}, 1))
		loss := Sum(Add(a, b))
		loss.Backward()
		optimizer.Step()
	}
	assert.InDelta(t, 2.0, w.Data()[0], 1e-2)
}

func TestAdamConverges(t *testing.T) {
	rng := base.NewRandomGenerator(0)
	w := Normal(rng, 0, 0.1, 1).RequireGrad()
	optimizer := NewAdam([]*Tensor{w}, 0.1)
	for i := 0; i < 500; i++ {
		optimizer.ZeroGrad()
		a := Mul(Mul(w, w), NewTensor([]float32{9}, 1))
		b := Mul(w, NewTensor([]float32{-36}, 1))
		loss := Sum(Add(a, b))
		loss.Backward()
		optimizer.Step()
	}
	assert.InDelta(t, 2.0, w.Data()[0], 5e-2)
}

func TestNewTensorShapeMismatch(t *testing.T) {
	assert.Panics(t, func() { NewTensor([]float32{1, 2, 3}, 2, 2) })
}
