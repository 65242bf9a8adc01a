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

// Package seq implements the two sequence-aware scoring strategies: an
// Elman recurrent network and a self-attentive model. Both consume each
// user's chronological interaction history, train next-item prediction
// with a shared-vocabulary softmax, and score candidates as the
// probability of the item at the next step multiplied by its price.
package seq

import (
	"math"

	"github.com/recforge/recforge/dataset"
)

// paddingTarget marks positions excluded from the loss.
const paddingTarget = int32(-1)

// window is one left-padded training example. Inputs and targets are
// both maxSeqLen long; targets[t] is the item following inputs[t], or
// paddingTarget where inputs[t] is padding or history ran out.
type window struct {
	inputs  []int32
	targets []int32
}

// buildWindows turns every user history with at least two events into a
// training window over the most recent maxSeqLen+1 events. The padding
// token index is the number of items, one past the largest item index.
func buildWindows(data *dataset.Dataset, maxSeqLen int) []window {
	padToken := int32(data.CountItems())
	windows := make([]window, 0, data.CountUsers())
	for _, history := range data.GetUserFeedback() {
		if len(history) < 2 {
			continue
		}
		if len(history) > maxSeqLen+1 {
			history = history[len(history)-maxSeqLen-1:]
		}
		w := window{
			inputs:  make([]int32, maxSeqLen),
			targets: make([]int32, maxSeqLen),
		}
		offset := maxSeqLen - (len(history) - 1)
		for t := 0; t < offset; t++ {
			w.inputs[t] = padToken
			w.targets[t] = paddingTarget
		}
		for t := 0; t < len(history)-1; t++ {
			w.inputs[offset+t] = history[t]
			w.targets[offset+t] = history[t+1]
		}
		windows = append(windows, w)
	}
	return windows
}

// inferenceInput left-pads the most recent maxSeqLen events of a user
// history. A user with no history yields all padding, which still
// produces a next-item distribution.
func inferenceInput(data *dataset.Dataset, user int32, maxSeqLen int) []int32 {
	padToken := int32(data.CountItems())
	history := data.GetUserFeedback()[user]
	if len(history) > maxSeqLen {
		history = history[len(history)-maxSeqLen:]
	}
	inputs := make([]int32, maxSeqLen)
	offset := maxSeqLen - len(history)
	for t := 0; t < offset; t++ {
		inputs[t] = padToken
	}
	copy(inputs[offset:], history)
	return inputs
}

// scoreByDistribution turns the final-position probability distribution
// into a candidate scorer weighting probability by price.
func scoreByDistribution(data *dataset.Dataset, probs []float32) func(items []int32) []float64 {
	return func(items []int32) []float64 {
		relevances := make([]float64, len(items))
		for i, item := range items {
			relevances[i] = float64(probs[item]) * data.Price(item)
		}
		return relevances
	}
}

// softmax32 normalizes logits to probabilities, excluding the padding
// token from the distribution.
func softmax32(logits []float32, padToken int32) []float32 {
	probs := make([]float32, len(logits))
	maxVal := float32(math.Inf(-1))
	for i, v := range logits {
		if int32(i) != padToken && v > maxVal {
			maxVal = v
		}
	}
	var sum float32
	for i, v := range logits {
		if int32(i) == padToken {
			continue
		}
		probs[i] = float32(math.Exp(float64(v - maxVal)))
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
