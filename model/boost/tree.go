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

package boost

import "sort"

// node is one regression tree node. Leaves have no children and carry
// the mean residual of the samples they cover.
type node struct {
	feature   int
	threshold float64
	left      *node
	right     *node
	value     float64
}

func (n *node) predict(x []float64) float64 {
	if n.left == nil {
		return n.value
	}
	if x[n.feature] <= n.threshold {
		return n.left.predict(x)
	}
	return n.right.predict(x)
}

// buildTree grows a regression tree by exact greedy splitting. Features
// are scanned in index order and candidate thresholds in value order,
// so ties always resolve to the first candidate and the tree is
// deterministic for a given sample order.
func buildTree(samples [][]float64, targets []float64, indices []int, depth int) *node {
	leaf := &node{value: meanAt(targets, indices)}
	if depth <= 0 || len(indices) < 2 {
		return leaf
	}
	bestGain := 0.0
	bestFeature, bestThreshold := -1, 0.0
	baseError := sumSquaredError(targets, indices)
	values := make([]float64, 0, len(indices))
	for feature := 0; feature < len(samples[0]); feature++ {
		values = values[:0]
		for _, i := range indices {
			values = append(values, samples[i][feature])
		}
		sort.Float64s(values)
		for v := 0; v < len(values)-1; v++ {
			if values[v] == values[v+1] {
				continue
			}
			threshold := (values[v] + values[v+1]) / 2
			left, right := partition(samples, indices, feature, threshold)
			gain := baseError - sumSquaredError(targets, left) - sumSquaredError(targets, right)
			if gain > bestGain {
				bestGain = gain
				bestFeature = feature
				bestThreshold = threshold
			}
		}
	}
	if bestFeature < 0 {
		return leaf
	}
	left, right := partition(samples, indices, bestFeature, bestThreshold)
	return &node{
		feature:   bestFeature,
		threshold: bestThreshold,
		left:      buildTree(samples, targets, left, depth-1),
		right:     buildTree(samples, targets, right, depth-1),
	}
}

func partition(samples [][]float64, indices []int, feature int, threshold float64) (left, right []int) {
	for _, i := range indices {
		if samples[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return
}

func meanAt(targets []float64, indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}
	var total float64
	for _, i := range indices {
		total += targets[i]
	}
	return total / float64(len(indices))
}

func sumSquaredError(targets []float64, indices []int) float64 {
	m := meanAt(targets, indices)
	var total float64
	for _, i := range indices {
		d := targets[i] - m
		total += d * d
	}
	return total
}
