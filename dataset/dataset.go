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

import (
	"sort"

	"github.com/bits-and-blooms/bitset"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/recforge/recforge/base/log"
	"github.com/recforge/recforge/table"
)

// ErrEmptyTrainingSet is returned when a training log contains no usable
// interactions. Strategies fail fast on it instead of producing a
// degenerate model.
var ErrEmptyTrainingSet = errors.New("dataset: training log contains no interactions")

type interaction struct {
	user      int32
	item      int32
	relevance float64
	timestamp float64
	order     int
}

// Dataset is the fitted view of a training log plus optional feature
// tables. It owns the user/item index maps and everything derived from
// them. All fields are immutable after Build returns.
type Dataset struct {
	userDict *Dict
	itemDict *Dict

	// per-user item indices in chronological order (insertion order when
	// timestamps are absent)
	userFeedback [][]int32
	userSeen     []mapset.Set[int32]
	relevance    [][]float64

	prices   []float64
	maxPrice float64

	userFeatures [][]float32
	itemFeatures [][]float32
	// entities that actually appeared in their feature table
	featuredUsers *bitset.BitSet
	featuredItems *bitset.BitSet

	countFeedback int
}

// Build constructs a Dataset from a log and optional feature tables.
// userFeatures and itemFeatures may be nil.
func Build(logTable table.Table, userFeatures, itemFeatures table.Table) (*Dataset, error) {
	if logTable == nil || logTable.Len() == 0 {
		return nil, errors.Trace(ErrEmptyTrainingSet)
	}
	d := &Dataset{
		userDict: NewDict(),
		itemDict: NewDict(),
	}
	hasTimestamp := false
	for _, c := range logTable.Columns() {
		if c == table.Timestamp {
			hasTimestamp = true
		}
	}
	interactions := make([]interaction, 0, logTable.Len())
	for i, row := range logTable.Collect() {
		userId, ok := row.Int(table.User)
		if !ok {
			continue
		}
		itemId, ok := row.Int(table.Item)
		if !ok {
			continue
		}
		rel, _ := row.Float(table.Relevance)
		ts := float64(i)
		if hasTimestamp {
			if v, ok := row.Float(table.Timestamp); ok {
				ts = v
			}
		}
		interactions = append(interactions, interaction{
			user:      d.userDict.Add(userId),
			item:      d.itemDict.Add(itemId),
			relevance: rel,
			timestamp: ts,
			order:     i,
		})
	}
	if len(interactions) == 0 {
		return nil, errors.Trace(ErrEmptyTrainingSet)
	}
	d.countFeedback = len(interactions)
	// chronological order; insertion order breaks timestamp ties so the
	// surrogate ordering is stable
	sort.SliceStable(interactions, func(i, j int) bool {
		return interactions[i].timestamp < interactions[j].timestamp
	})
	d.userFeedback = make([][]int32, d.userDict.Count())
	d.relevance = make([][]float64, d.userDict.Count())
	d.userSeen = make([]mapset.Set[int32], d.userDict.Count())
	for i := range d.userSeen {
		d.userSeen[i] = mapset.NewThreadUnsafeSet[int32]()
	}
	for _, in := range interactions {
		d.userFeedback[in.user] = append(d.userFeedback[in.user], in.item)
		d.relevance[in.user] = append(d.relevance[in.user], in.relevance)
		d.userSeen[in.user].Add(in.item)
	}
	d.loadPrices(itemFeatures)
	d.userFeatures, d.featuredUsers = loadFeatures(userFeatures, table.User, d.userDict)
	d.itemFeatures, d.featuredItems = loadFeatures(itemFeatures, table.Item, d.itemDict)
	return d, nil
}

func (d *Dataset) loadPrices(itemFeatures table.Table) {
	d.prices = make([]float64, d.itemDict.Count())
	for i := range d.prices {
		d.prices[i] = 1
	}
	d.maxPrice = 1
	if itemFeatures == nil {
		return
	}
	hasPrice := false
	for _, c := range itemFeatures.Columns() {
		if c == table.Price {
			hasPrice = true
		}
	}
	if !hasPrice {
		return
	}
	for _, row := range itemFeatures.Collect() {
		itemId, ok := row.Int(table.Item)
		if !ok {
			continue
		}
		index := d.itemDict.Id(itemId)
		if index < 0 {
			// feature row for an item outside the training log
			continue
		}
		price, ok := row.Float(table.Price)
		if !ok || price <= 0 {
			log.Logger().Warn("skip malformed price row", zap.Int64("item_id", itemId))
			continue
		}
		d.prices[index] = price
		if price > d.maxPrice {
			d.maxPrice = price
		}
	}
}

// loadFeatures materializes per-entity dense feature vectors from a
// feature table. Every column except the id column (and price, which is
// modeled separately) contributes one dimension, in column order.
// Malformed rows are skipped so one bad row cannot poison the rest.
func loadFeatures(features table.Table, idColumn string, dict *Dict) ([][]float32, *bitset.BitSet) {
	if features == nil {
		return nil, nil
	}
	columns := make([]string, 0, len(features.Columns()))
	for _, c := range features.Columns() {
		if c != idColumn && c != table.Price {
			columns = append(columns, c)
		}
	}
	if len(columns) == 0 {
		return nil, nil
	}
	featured := bitset.New(uint(dict.Count()))
	vectors := make([][]float32, dict.Count())
	for _, row := range features.Collect() {
		id, ok := row.Int(idColumn)
		if !ok {
			continue
		}
		index := dict.Id(id)
		if index < 0 {
			continue
		}
		vector := make([]float32, len(columns))
		valid := true
		for i, c := range columns {
			v, ok := row.Float(c)
			if !ok {
				valid = false
				break
			}
			vector[i] = float32(v)
		}
		if !valid {
			log.Logger().Warn("skip malformed feature row", zap.Int64("id", id))
			continue
		}
		vectors[index] = vector
		featured.Set(uint(index))
	}
	return vectors, featured
}

func (d *Dataset) UserDict() *Dict {
	return d.userDict
}

func (d *Dataset) ItemDict() *Dict {
	return d.itemDict
}

func (d *Dataset) CountUsers() int {
	return int(d.userDict.Count())
}

func (d *Dataset) CountItems() int {
	return int(d.itemDict.Count())
}

func (d *Dataset) CountFeedback() int {
	return d.countFeedback
}

// GetUserFeedback returns per-user item indices in chronological order.
func (d *Dataset) GetUserFeedback() [][]int32 {
	return d.userFeedback
}

// GetUserRelevance returns per-user relevance values aligned with
// GetUserFeedback.
func (d *Dataset) GetUserRelevance() [][]float64 {
	return d.relevance
}

// GetUserSeen returns the set of items each user interacted with.
func (d *Dataset) GetUserSeen() []mapset.Set[int32] {
	return d.userSeen
}

// Price returns the price of an item index (1 when no price is known).
func (d *Dataset) Price(index int32) float64 {
	if index < 0 || int(index) >= len(d.prices) {
		return 1
	}
	return d.prices[index]
}

func (d *Dataset) MaxPrice() float64 {
	return d.maxPrice
}

// GetUserFeatures returns per-user feature vectors, nil when no user
// feature table was supplied. Entries may be nil for users without a
// feature row.
func (d *Dataset) GetUserFeatures() [][]float32 {
	return d.userFeatures
}

// GetItemFeatures returns per-item feature vectors, nil when no item
// feature table was supplied.
func (d *Dataset) GetItemFeatures() [][]float32 {
	return d.itemFeatures
}

// UserFeatured reports whether the user appeared in the user feature
// table.
func (d *Dataset) UserFeatured(index int32) bool {
	return d.featuredUsers != nil && d.featuredUsers.Test(uint(index))
}

// ItemFeatured reports whether the item appeared in the item feature
// table.
func (d *Dataset) ItemFeatured(index int32) bool {
	return d.featuredItems != nil && d.featuredItems.Test(uint(index))
}
