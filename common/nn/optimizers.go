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

import "github.com/chewxy/math32"

type Optimizer interface {
	Step()
	ZeroGrad()
}

type baseOptimizer struct {
	params []*Tensor
	lr     float32
}

func (o *baseOptimizer) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

type SGD struct {
	baseOptimizer
}

func NewSGD(params []*Tensor, lr float32) *SGD {
	return &SGD{baseOptimizer{params: params, lr: lr}}
}

func (o *SGD) Step() {
	for _, p := range o.params {
		if p.grad == nil {
			continue
		}
		for i := range p.data {
			p.data[i] -= o.lr * p.grad.data[i]
		}
	}
}

type Adam struct {
	baseOptimizer
	beta1 float32
	beta2 float32
	eps   float32
	m     [][]float32
	v     [][]float32
	t     int
}

func NewAdam(params []*Tensor, lr float32) *Adam {
	m := make([][]float32, len(params))
	v := make([][]float32, len(params))
	for i, p := range params {
		m[i] = make([]float32, len(p.data))
		v[i] = make([]float32, len(p.data))
	}
	return &Adam{
		baseOptimizer: baseOptimizer{params: params, lr: lr},
		beta1:         0.9,
		beta2:         0.999,
		eps:           1e-8,
		m:             m,
		v:             v,
	}
}

func (o *Adam) Step() {
	o.t++
	correction1 := 1 - math32.Pow(o.beta1, float32(o.t))
	correction2 := 1 - math32.Pow(o.beta2, float32(o.t))
	for i, p := range o.params {
		if p.grad == nil {
			continue
		}
		for j := range p.data {
			g := p.grad.data[j]
			o.m[i][j] = o.beta1*o.m[i][j] + (1-o.beta1)*g
			o.v[i][j] = o.beta2*o.v[i][j] + (1-o.beta2)*g*g
			mHat := o.m[i][j] / correction1
			vHat := o.v[i][j] / correction2
			p.data[j] -= o.lr * mHat / (math32.Sqrt(vHat) + o.eps)
		}
	}
}
