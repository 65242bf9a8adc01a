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

package recommend

import "sort"

// Scored is a candidate annotated with its relevance.
type Scored struct {
	User      int32
	Item      int32
	Relevance float64
}

// Rank orders scored candidates by (user ascending, relevance descending)
// and truncates to at most k per user. The sort is stable, so candidates
// with equal relevance keep their generation order; given identical
// inputs the result is identical.
func Rank(scored []Scored, k int) []Scored {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].User != scored[j].User {
			return scored[i].User < scored[j].User
		}
		return scored[i].Relevance > scored[j].Relevance
	})
	ranked := make([]Scored, 0, len(scored))
	count := 0
	var current int32 = -1
	for _, s := range scored {
		if s.User != current {
			current = s.User
			count = 0
		}
		if count < k {
			ranked = append(ranked, s)
			count++
		}
	}
	return ranked
}
