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

type op interface {
	String() string
	forward(inputs ...*Tensor) *Tensor
	backward(dy *Tensor) []*Tensor
	inputsAndOutput() ([]*Tensor, *Tensor)
	setInputs(inputs ...*Tensor)
	setOutput(y *Tensor)
}

type opBase struct {
	inputs []*Tensor
	output *Tensor
}

func (b *opBase) inputsAndOutput() ([]*Tensor, *Tensor) {
	return b.inputs, b.output
}

func (b *opBase) setInputs(inputs ...*Tensor) {
	b.inputs = inputs
}

func (b *opBase) setOutput(y *Tensor) {
	b.output = y
}

func apply[T op](f T, inputs ...*Tensor) *Tensor {
	y := f.forward(inputs...)
	f.setInputs(inputs...)
	f.setOutput(y)
	y.op = f
	return y
}

// suffixSize validates that the shape of small is a suffix of the shape
// of big and returns the broadcast block size.
func suffixSize(big, small *Tensor) int {
	if len(big.shape) < len(small.shape) {
		panic("nn: the second operand must not have more dimensions than the first")
	}
	size := 1
	for i := 0; i < len(small.shape); i++ {
		if big.shape[len(big.shape)-len(small.shape)+i] != small.shape[i] {
			panic("nn: the shape of the second operand must be a suffix of the first")
		}
		size *= small.shape[i]
	}
	return size
}

type add struct {
	opBase
}

func (a *add) String() string { return "Add" }

func (a *add) forward(inputs ...*Tensor) *Tensor {
	wSize := suffixSize(inputs[0], inputs[1])
	y := inputs[0].clone()
	for i := range y.data {
		y.data[i] += inputs[1].data[i%wSize]
	}
	return y
}

func (a *add) backward(dy *Tensor) []*Tensor {
	gx0 := dy.clone()
	gx1 := Zeros(a.inputs[1].shape...)
	wSize := len(gx1.data)
	for i := range dy.data {
		gx1.data[i%wSize] += dy.data[i]
	}
	return []*Tensor{gx0, gx1}
}

type mul struct {
	opBase
}

func (m *mul) String() string { return "Mul" }

func (m *mul) forward(inputs ...*Tensor) *Tensor {
	wSize := suffixSize(inputs[0], inputs[1])
	y := inputs[0].clone()
	for i := range y.data {
		y.data[i] *= inputs[1].data[i%wSize]
	}
	return y
}

func (m *mul) backward(dy *Tensor) []*Tensor {
	gx0 := dy.clone()
	wSize := len(m.inputs[1].data)
	for i := range gx0.data {
		gx0.data[i] *= m.inputs[1].data[i%wSize]
	}
	gx1 := Zeros(m.inputs[1].shape...)
	for i := range dy.data {
		gx1.data[i%wSize] += dy.data[i] * m.inputs[0].data[i]
	}
	return []*Tensor{gx0, gx1}
}

type mulScalar struct {
	opBase
	c float32
}

func (m *mulScalar) String() string { return "MulScalar" }

func (m *mulScalar) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	for i := range y.data {
		y.data[i] *= m.c
	}
	return y
}

func (m *mulScalar) backward(dy *Tensor) []*Tensor {
	gx := dy.clone()
	for i := range gx.data {
		gx.data[i] *= m.c
	}
	return []*Tensor{gx}
}

type matMul struct {
	opBase
}

func (m *matMul) String() string { return "MatMul" }

func (m *matMul) forward(inputs ...*Tensor) *Tensor {
	x, w := inputs[0], inputs[1]
	if len(x.shape) != 2 || len(w.shape) != 2 || x.shape[1] != w.shape[0] {
		panic("nn: MatMul expects [m,k] and [k,n]")
	}
	return mm(x.data, w.data, x.shape[0], x.shape[1], w.shape[1], false, false)
}

func (m *matMul) backward(dy *Tensor) []*Tensor {
	x, w := m.inputs[0], m.inputs[1]
	// dx = dy @ w^T, dw = x^T @ dy
	dx := mm(dy.data, w.data, x.shape[0], w.shape[1], x.shape[1], false, true)
	dw := mm(x.data, dy.data, x.shape[1], x.shape[0], w.shape[1], true, false)
	return []*Tensor{dx, dw}
}

// mm multiplies a [m,k] by b [k,n] with optional transposition of either
// operand (shapes given post-transposition).
func mm(a, b []float32, m, k, n int, transA, transB bool) *Tensor {
	y := Zeros(m, n)
	for i := 0; i < m; i++ {
		for l := 0; l < k; l++ {
			var av float32
			if transA {
				av = a[l*m+i]
			} else {
				av = a[i*k+l]
			}
			if av == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				var bv float32
				if transB {
					bv = b[j*k+l]
				} else {
					bv = b[l*n+j]
				}
				y.data[i*n+j] += av * bv
			}
		}
	}
	return y
}

type batchMatMul struct {
	opBase
	transB bool
}

func (m *batchMatMul) String() string { return "BatchMatMul" }

func (m *batchMatMul) forward(inputs ...*Tensor) *Tensor {
	x, w := inputs[0], inputs[1]
	if len(x.shape) != 3 || len(w.shape) != 3 || x.shape[0] != w.shape[0] {
		panic("nn: BatchMatMul expects two 3D tensors with equal batch size")
	}
	batch, rows, inner := x.shape[0], x.shape[1], x.shape[2]
	var cols int
	if m.transB {
		if w.shape[2] != inner {
			panic("nn: BatchMatMul shape mismatch")
		}
		cols = w.shape[1]
	} else {
		if w.shape[1] != inner {
			panic("nn: BatchMatMul shape mismatch")
		}
		cols = w.shape[2]
	}
	y := Zeros(batch, rows, cols)
	for b := 0; b < batch; b++ {
		xb := x.data[b*rows*inner : (b+1)*rows*inner]
		wb := w.data[b*len(w.data)/batch : (b+1)*len(w.data)/batch]
		yb := mm(xb, wb, rows, inner, cols, false, m.transB)
		copy(y.data[b*rows*cols:(b+1)*rows*cols], yb.data)
	}
	return y
}

func (m *batchMatMul) backward(dy *Tensor) []*Tensor {
	x, w := m.inputs[0], m.inputs[1]
	batch, rows, inner := x.shape[0], x.shape[1], x.shape[2]
	cols := dy.shape[2]
	dx := Zeros(x.shape...)
	dw := Zeros(w.shape...)
	for b := 0; b < batch; b++ {
		xb := x.data[b*rows*inner : (b+1)*rows*inner]
		wb := w.data[b*len(w.data)/batch : (b+1)*len(w.data)/batch]
		dyb := dy.data[b*rows*cols : (b+1)*rows*cols]
		if m.transB {
			// y = x @ w^T with w [cols, inner]
			// dx = dy @ w, dw = dy^T @ x
			dxb := mm(dyb, wb, rows, cols, inner, false, false)
			dwb := mm(dyb, xb, cols, rows, inner, true, false)
			copy(dx.data[b*rows*inner:(b+1)*rows*inner], dxb.data)
			copy(dw.data[b*cols*inner:(b+1)*cols*inner], dwb.data)
		} else {
			// y = x @ w with w [inner, cols]
			// dx = dy @ w^T, dw = x^T @ dy
			dxb := mm(dyb, wb, rows, cols, inner, false, true)
			dwb := mm(xb, dyb, inner, rows, cols, true, false)
			copy(dx.data[b*rows*inner:(b+1)*rows*inner], dxb.data)
			copy(dw.data[b*inner*cols:(b+1)*inner*cols], dwb.data)
		}
	}
	return []*Tensor{dx, dw}
}

type embedding struct {
	opBase
	indices []int32
	shape   []int
}

func (e *embedding) String() string { return "Embedding" }

func (e *embedding) forward(inputs ...*Tensor) *Tensor {
	w := inputs[0]
	dim := w.shape[1]
	outShape := append(append([]int{}, e.shape...), dim)
	y := Zeros(outShape...)
	for i, index := range e.indices {
		copy(y.data[i*dim:(i+1)*dim], w.data[int(index)*dim:(int(index)+1)*dim])
	}
	return y
}

func (e *embedding) backward(dy *Tensor) []*Tensor {
	w := e.inputs[0]
	dim := w.shape[1]
	dw := Zeros(w.shape...)
	for i, index := range e.indices {
		for j := 0; j < dim; j++ {
			dw.data[int(index)*dim+j] += dy.data[i*dim+j]
		}
	}
	return []*Tensor{dw}
}

type reshape struct {
	opBase
	shape []int
}

func (r *reshape) String() string { return "Reshape" }

func (r *reshape) forward(inputs ...*Tensor) *Tensor {
	n := 1
	for _, s := range r.shape {
		n *= s
	}
	if n != len(inputs[0].data) {
		panic("nn: Reshape must preserve the number of elements")
	}
	y := inputs[0].clone()
	y.shape = append([]int{}, r.shape...)
	return y
}

func (r *reshape) backward(dy *Tensor) []*Tensor {
	gx := dy.clone()
	gx.shape = append([]int{}, r.inputs[0].shape...)
	return []*Tensor{gx}
}

type tanh struct {
	opBase
}

func (t *tanh) String() string { return "Tanh" }

func (t *tanh) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	for i := range y.data {
		y.data[i] = math32.Tanh(y.data[i])
	}
	return y
}

func (t *tanh) backward(dy *Tensor) []*Tensor {
	gx := dy.clone()
	for i := range gx.data {
		gx.data[i] *= 1 - t.output.data[i]*t.output.data[i]
	}
	return []*Tensor{gx}
}

type relu struct {
	opBase
}

func (r *relu) String() string { return "ReLU" }

func (r *relu) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	for i := range y.data {
		if y.data[i] < 0 {
			y.data[i] = 0
		}
	}
	return y
}

func (r *relu) backward(dy *Tensor) []*Tensor {
	gx := dy.clone()
	for i := range gx.data {
		if r.inputs[0].data[i] < 0 {
			gx.data[i] = 0
		}
	}
	return []*Tensor{gx}
}

type sum struct {
	opBase
}

func (s *sum) String() string { return "Sum" }

func (s *sum) forward(inputs ...*Tensor) *Tensor {
	var total float32
	for _, v := range inputs[0].data {
		total += v
	}
	return NewScalar(total)
}

func (s *sum) backward(dy *Tensor) []*Tensor {
	gx := Zeros(s.inputs[0].shape...)
	for i := range gx.data {
		gx.data[i] = dy.data[0]
	}
	return []*Tensor{gx}
}

type softmax struct {
	opBase
}

func (s *softmax) String() string { return "Softmax" }

func (s *softmax) forward(inputs ...*Tensor) *Tensor {
	x := inputs[0]
	dim := x.shape[len(x.shape)-1]
	y := x.clone()
	for begin := 0; begin < len(y.data); begin += dim {
		row := y.data[begin : begin+dim]
		maxVal := row[0]
		for _, v := range row {
			if v > maxVal {
				maxVal = v
			}
		}
		var sum float32
		for i := range row {
			row[i] = math32.Exp(row[i] - maxVal)
			sum += row[i]
		}
		for i := range row {
			row[i] /= sum
		}
	}
	return y
}

func (s *softmax) backward(dy *Tensor) []*Tensor {
	y := s.output
	dim := y.shape[len(y.shape)-1]
	gx := Zeros(y.shape...)
	for begin := 0; begin < len(y.data); begin += dim {
		var dot float32
		for i := begin; i < begin+dim; i++ {
			dot += dy.data[i] * y.data[i]
		}
		for i := begin; i < begin+dim; i++ {
			gx.data[i] = y.data[i] * (dy.data[i] - dot)
		}
	}
	return []*Tensor{gx}
}

type softmaxCrossEntropy struct {
	opBase
	targets []int32
	// positions with a negative target are excluded from loss and
	// gradient (padding)
	probs []float32
	count int
}

func (s *softmaxCrossEntropy) String() string { return "SoftmaxCrossEntropy" }

func (s *softmaxCrossEntropy) forward(inputs ...*Tensor) *Tensor {
	logits := inputs[0]
	rows, dim := logits.shape[0], logits.shape[1]
	s.probs = make([]float32, len(logits.data))
	s.count = 0
	var loss float32
	for r := 0; r < rows; r++ {
		row := logits.data[r*dim : (r+1)*dim]
		probs := s.probs[r*dim : (r+1)*dim]
		maxVal := row[0]
		for _, v := range row {
			if v > maxVal {
				maxVal = v
			}
		}
		var sum float32
		for i := range row {
			probs[i] = math32.Exp(row[i] - maxVal)
			sum += probs[i]
		}
		for i := range probs {
			probs[i] /= sum
		}
		if s.targets[r] >= 0 {
			s.count++
			loss -= math32.Log(probs[s.targets[r]] + 1e-12)
		}
	}
	if s.count > 0 {
		loss /= float32(s.count)
	}
	return NewScalar(loss)
}

func (s *softmaxCrossEntropy) backward(dy *Tensor) []*Tensor {
	logits := s.inputs[0]
	rows, dim := logits.shape[0], logits.shape[1]
	gx := Zeros(logits.shape...)
	if s.count == 0 {
		return []*Tensor{gx}
	}
	scale := dy.data[0] / float32(s.count)
	for r := 0; r < rows; r++ {
		if s.targets[r] < 0 {
			continue
		}
		for i := 0; i < dim; i++ {
			g := s.probs[r*dim+i]
			if int32(i) == s.targets[r] {
				g -= 1
			}
			gx.data[r*dim+i] = g * scale
		}
	}
	return []*Tensor{gx}
}

type dropout struct {
	opBase
	rate float32
	mask []float32
}

func (d *dropout) String() string { return "Dropout" }

func (d *dropout) forward(inputs ...*Tensor) *Tensor {
	y := inputs[0].clone()
	for i := range y.data {
		y.data[i] *= d.mask[i]
	}
	return y
}

func (d *dropout) backward(dy *Tensor) []*Tensor {
	gx := dy.clone()
	for i := range gx.data {
		gx.data[i] *= d.mask[i]
	}
	return []*Tensor{gx}
}

type concat struct {
	opBase
	dims []int
}

func (c *concat) String() string { return "Concat" }

func (c *concat) forward(inputs ...*Tensor) *Tensor {
	rows := len(inputs[0].data) / inputs[0].shape[len(inputs[0].shape)-1]
	c.dims = make([]int, len(inputs))
	total := 0
	for i, in := range inputs {
		c.dims[i] = in.shape[len(in.shape)-1]
		total += c.dims[i]
	}
	outShape := append([]int{}, inputs[0].shape...)
	outShape[len(outShape)-1] = total
	y := Zeros(outShape...)
	for r := 0; r < rows; r++ {
		offset := 0
		for i, in := range inputs {
			copy(y.data[r*total+offset:r*total+offset+c.dims[i]], in.data[r*c.dims[i]:(r+1)*c.dims[i]])
			offset += c.dims[i]
		}
	}
	return y
}

func (c *concat) backward(dy *Tensor) []*Tensor {
	rows := len(c.inputs[0].data) / c.dims[0]
	total := 0
	for _, d := range c.dims {
		total += d
	}
	grads := make([]*Tensor, len(c.inputs))
	for i, in := range c.inputs {
		grads[i] = Zeros(in.shape...)
	}
	for r := 0; r < rows; r++ {
		offset := 0
		for i := range c.inputs {
			copy(grads[i].data[r*c.dims[i]:(r+1)*c.dims[i]], dy.data[r*total+offset:r*total+offset+c.dims[i]])
			offset += c.dims[i]
		}
	}
	return grads
}

// Add returns the element-wise sum of two tensors. The shape of the
// second tensor must be a suffix of the shape of the first tensor.
func Add(x0, x1 *Tensor) *Tensor {
	return apply(&add{}, x0, x1)
}

// Mul returns the element-wise product of two tensors. The shape of the
// second tensor must be a suffix of the shape of the first tensor.
func Mul(x0, x1 *Tensor) *Tensor {
	return apply(&mul{}, x0, x1)
}

// MulScalar scales a tensor by a constant.
func MulScalar(x *Tensor, c float32) *Tensor {
	return apply(&mulScalar{c: c}, x)
}

// MatMul multiplies [m,k] by [k,n].
func MatMul(x, w *Tensor) *Tensor {
	return apply(&matMul{}, x, w)
}

// BatchMatMul multiplies two 3D tensors batch-wise, optionally
// transposing the last two dimensions of the second operand.
func BatchMatMul(x, w *Tensor, transB bool) *Tensor {
	return apply(&batchMatMul{transB: transB}, x, w)
}

// Embedding gathers rows of w by index. The output shape is the index
// shape with the embedding dimension appended.
func Embedding(w *Tensor, indices []int32, shape ...int) *Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}
	if n != len(indices) {
		panic("nn: Embedding index shape mismatch")
	}
	return apply(&embedding{indices: indices, shape: shape}, w)
}

// Reshape returns a view of x with a new shape.
func Reshape(x *Tensor, shape ...int) *Tensor {
	return apply(&reshape{shape: shape}, x)
}

// Tanh returns the element-wise hyperbolic tangent.
func Tanh(x *Tensor) *Tensor {
	return apply(&tanh{}, x)
}

// ReLu returns the element-wise rectifier.
func ReLu(x *Tensor) *Tensor {
	return apply(&relu{}, x)
}

// Sum reduces a tensor to the scalar sum of its elements.
func Sum(x *Tensor) *Tensor {
	return apply(&sum{}, x)
}

// Softmax normalizes the last dimension to a probability distribution.
func Softmax(x *Tensor) *Tensor {
	return apply(&softmax{}, x)
}

// SoftmaxCrossEntropy returns the mean negative log-likelihood of the
// targets under softmax(logits). Rows with a negative target (padding)
// contribute neither loss nor gradient.
func SoftmaxCrossEntropy(logits *Tensor, targets []int32) *Tensor {
	if len(logits.shape) != 2 || logits.shape[0] != len(targets) {
		panic("nn: SoftmaxCrossEntropy expects [n,v] logits and n targets")
	}
	return apply(&softmaxCrossEntropy{targets: targets}, logits)
}

// Dropout randomly zeroes elements with probability rate and rescales
// the survivors. A rate of zero is the identity.
func Dropout(x *Tensor, rate float32, rng base.RandomGenerator) *Tensor {
	mask := make([]float32, len(x.data))
	if rate <= 0 {
		for i := range mask {
			mask[i] = 1
		}
	} else {
		keep := 1 / (1 - rate)
		for i := range mask {
			if rng.Float32() >= rate {
				mask[i] = keep
			}
		}
	}
	return apply(&dropout{rate: rate, mask: mask}, x)
}

// Concat concatenates tensors along their last dimension.
func Concat(xs ...*Tensor) *Tensor {
	return apply(&concat{}, xs...)
}
