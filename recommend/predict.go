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

import (
	"math"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/recforge/recforge/base/log"
	"github.com/recforge/recforge/dataset"
	"github.com/recforge/recforge/table"
)

// ScoreFunc scores candidate items for one user. The returned slice is
// aligned with items; NaN entries mark candidates the strategy cannot
// score, which are dropped instead of aborting the call.
type ScoreFunc func(user int32, items []int32) []float64

// Run executes the shared prediction pipeline around a strategy's scoring
// function: resolve requested ids against the fitted index maps (unknown
// ids are skipped, never errors), generate candidates, score, rank and
// truncate to k, then materialize the output table with raw ids.
func Run(data *dataset.Dataset, k int, users, items table.Table, filterSeen bool, score ScoreFunc) (table.Table, error) {
	if k <= 0 {
		return nil, errors.NotValidf("k = %d", k)
	}
	requestedUsers := resolve(users, table.User, data.UserDict())
	requestedItems := resolve(items, table.Item, data.ItemDict())
	candidates := Generate(requestedUsers, requestedItems, data.GetUserSeen(), filterSeen)

	scored := make([]Scored, 0, len(candidates))
	// candidates are user-major, score one user at a time
	for begin := 0; begin < len(candidates); {
		end := begin
		for end < len(candidates) && candidates[end].User == candidates[begin].User {
			end++
		}
		user := candidates[begin].User
		userItems := make([]int32, 0, end-begin)
		for _, c := range candidates[begin:end] {
			userItems = append(userItems, c.Item)
		}
		relevances := score(user, userItems)
		for i, r := range relevances {
			if math.IsNaN(r) {
				continue
			}
			scored = append(scored, Scored{User: user, Item: userItems[i], Relevance: r})
		}
		begin = end
	}

	ranked := Rank(scored, k)
	out := table.NewMemTable(table.User, table.Item, table.Relevance)
	for _, s := range ranked {
		userId, _ := data.UserDict().Raw(s.User)
		itemId, _ := data.ItemDict().Raw(s.Item)
		out.Append(userId, itemId, s.Relevance)
	}
	return out, nil
}

// resolve maps raw ids from a request table to dense indices, skipping
// unknown ids.
func resolve(request table.Table, idColumn string, dict *dataset.Dict) []int32 {
	if request == nil {
		return nil
	}
	indices := make([]int32, 0, request.Len())
	for _, row := range request.Collect() {
		id, ok := row.Int(idColumn)
		if !ok {
			continue
		}
		index := dict.Id(id)
		if index < 0 {
			log.Logger().Debug("skip unknown entity", zap.Int64("id", id), zap.String("column", idColumn))
			continue
		}
		indices = append(indices, index)
	}
	return indices
}
