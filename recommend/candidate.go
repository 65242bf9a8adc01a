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

// Package recommend implements the candidate-generation and ranking
// pipeline shared by every scoring strategy.
package recommend

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/lo"
)

// Candidate is one (user, item) pair to score, in dense indices.
type Candidate struct {
	User int32
	Item int32
}

// Generate builds the candidate universe: the cross product of requested
// users and items in stable user-major order, optionally minus seen
// pairs. Duplicate requested ids are collapsed to their first occurrence,
// so no duplicate pair is ever materialized. Seen-pair filtering is an
// anti-join on the exact (user, item) pair; a user whose candidates are
// all filtered simply contributes none.
func Generate(users, items []int32, seen []mapset.Set[int32], filterSeen bool) []Candidate {
	users = lo.Uniq(users)
	items = lo.Uniq(items)
	candidates := make([]Candidate, 0, len(users)*len(items))
	for _, u := range users {
		var seenByUser mapset.Set[int32]
		if filterSeen && int(u) < len(seen) {
			seenByUser = seen[u]
		}
		for _, i := range items {
			if seenByUser != nil && seenByUser.Contains(i) {
				continue
			}
			candidates = append(candidates, Candidate{User: u, Item: i})
		}
	}
	return candidates
}
