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

package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityQueue_Min(t *testing.T) {
	pq := NewPriorityQueue(false)
	pq.Push(10, 1.0)
	pq.Push(20, 0.5)
	pq.Push(30, 2.0)
	v, w := pq.Peek()
	assert.Equal(t, int32(20), v)
	assert.Equal(t, float32(0.5), w)
	v, _ = pq.Pop()
	assert.Equal(t, int32(20), v)
	v, _ = pq.Pop()
	assert.Equal(t, int32(10), v)
	v, _ = pq.Pop()
	assert.Equal(t, int32(30), v)
}

func TestPriorityQueue_Max(t *testing.T) {
	pq := NewPriorityQueue(true)
	pq.Push(10, 1.0)
	pq.Push(20, 0.5)
	pq.Push(30, 2.0)
	v, w := pq.Pop()
	assert.Equal(t, int32(30), v)
	assert.Equal(t, float32(2.0), w)
}

func TestPriorityQueue_Duplicate(t *testing.T) {
	pq := NewPriorityQueue(false)
	pq.Push(10, 1.0)
	pq.Push(10, 0.5)
	assert.Equal(t, 1, pq.Len())
}

func TestPriorityQueue_NaN(t *testing.T) {
	pq := NewPriorityQueue(false)
	assert.Panics(t, func() { pq.Push(1, float32(math32NaN())) })
}

func math32NaN() float32 {
	f := float32(0)
	return f / f
}
