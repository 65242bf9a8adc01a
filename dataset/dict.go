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

package dataset

// Dict is a bijection between raw entity ids and dense zero-based indices.
// It is built once per fit and treated as immutable afterwards. Ids absent
// from the dict are unknown: lookups return -1 and callers skip them.
type Dict struct {
	si  map[int64]int32
	is  []int64
	cnt []int
}

func NewDict() *Dict {
	return &Dict{si: map[int64]int32{}}
}

func (d *Dict) Count() int32 {
	return int32(len(d.is))
}

// Add returns the dense index of id, assigning the next free index on
// first sight, and bumps its frequency.
func (d *Dict) Add(id int64) int32 {
	if y, ok := d.si[id]; ok {
		d.cnt[y]++
		return y
	}
	y := int32(len(d.is))
	d.si[id] = y
	d.is = append(d.is, id)
	d.cnt = append(d.cnt, 1)
	return y
}

// Id returns the dense index of id, or -1 if the id was never seen.
func (d *Dict) Id(id int64) int32 {
	if y, ok := d.si[id]; ok {
		return y
	}
	return -1
}

// Raw returns the raw id for a dense index.
func (d *Dict) Raw(index int32) (int64, bool) {
	if index < 0 || index >= int32(len(d.is)) {
		return 0, false
	}
	return d.is[index], true
}

// Freq returns how many times the id behind index was added.
func (d *Dict) Freq(index int32) int {
	if index < 0 || index >= int32(len(d.cnt)) {
		return 0
	}
	return d.cnt[index]
}
