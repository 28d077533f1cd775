// Package dedup collapses records that describe the same real-world entity.
//
// Records are added one at a time to an Index. Each new record is compared pairwise against the
// records already accumulated, in insertion order, and merged into the first one it matches. A
// record therefore joins at most one group and chains of near-matches never collapse three ways
// unless each new member matches the group's current survivor.
package dedup

import (
	"slices"
)

// Policy defines identity for one record type.
type Policy[R any] interface {
	// Key is the canonical identity key. Equal keys always merge.
	Key(r R) string
	// Bucket is the secondary index slot r is filed under. Empty disables fuzzy matching for r.
	Bucket(r R) string
	// Probes are the buckets searched for near-matches of r.
	Probes(r R) []string
	// Match reports whether two records with different keys are the same entity.
	Match(a, b R) bool
	// Merge folds incoming into survivor and returns the survivor with its key recomputed.
	Merge(survivor, incoming R) R
}

// Stats counts how records were absorbed.
type Stats struct {
	Added       int
	ExactMerges int
	FuzzyMerges int
}

// Index accumulates records, merging each into its first match.
type Index[R any] struct {
	policy  Policy[R]
	records []R
	dead    []bool
	keys    []string
	byKey   map[string]int
	buckets map[string][]int
	stats   Stats
}

// NewIndex builds an empty Index.
func NewIndex[R any](policy Policy[R]) *Index[R] {
	return &Index[R]{
		policy:  policy,
		byKey:   make(map[string]int),
		buckets: make(map[string][]int),
	}
}

// Add merges r into an existing record or appends it. It reports whether a merge happened.
func (ix *Index[R]) Add(r R) bool {
	ix.stats.Added++
	if i, ok := ix.byKey[ix.policy.Key(r)]; ok {
		ix.stats.ExactMerges++
		ix.absorb(i, r)
		return true
	}
	if i, ok := ix.fuzzy(r); ok {
		ix.stats.FuzzyMerges++
		ix.absorb(i, r)
		return true
	}
	ix.insert(r)
	return false
}

// Find returns the record r would be merged into, if any.
func (ix *Index[R]) Find(r R) (R, bool) {
	if i, ok := ix.byKey[ix.policy.Key(r)]; ok {
		return ix.records[i], true
	}
	if i, ok := ix.fuzzy(r); ok {
		return ix.records[i], true
	}
	var zero R
	return zero, false
}

// Records returns the surviving records in insertion order.
func (ix *Index[R]) Records() []R {
	out := make([]R, 0, len(ix.records))
	for i, r := range ix.records {
		if !ix.dead[i] {
			out = append(out, r)
		}
	}
	return out
}

// Stats returns merge counters.
func (ix *Index[R]) Stats() Stats {
	return ix.stats
}

func (ix *Index[R]) fuzzy(r R) (int, bool) {
	var candidates []int
	for _, probe := range ix.policy.Probes(r) {
		candidates = append(candidates, ix.buckets[probe]...)
	}
	// Earliest inserted wins so results do not depend on probe order.
	slices.Sort(candidates)
	candidates = slices.Compact(candidates)
	for _, i := range candidates {
		if ix.dead[i] {
			continue
		}
		if ix.policy.Match(ix.records[i], r) {
			return i, true
		}
	}
	return 0, false
}

func (ix *Index[R]) insert(r R) {
	i := len(ix.records)
	key := ix.policy.Key(r)
	ix.records = append(ix.records, r)
	ix.dead = append(ix.dead, false)
	ix.keys = append(ix.keys, key)
	ix.byKey[key] = i
	if b := ix.policy.Bucket(r); b != "" {
		ix.buckets[b] = append(ix.buckets[b], i)
	}
}

// absorb merges r into record i and re-files it when the merge changed its key. If the new key
// already belongs to another survivor the two are merged as well, oldest surviving.
func (ix *Index[R]) absorb(i int, r R) {
	merged := ix.policy.Merge(ix.records[i], r)
	ix.records[i] = merged
	oldKey, newKey := ix.keys[i], ix.policy.Key(merged)
	if oldKey == newKey {
		return
	}
	if ix.byKey[oldKey] == i {
		delete(ix.byKey, oldKey)
	}
	ix.keys[i] = newKey
	j, taken := ix.byKey[newKey]
	if !taken || j == i {
		ix.byKey[newKey] = i
		return
	}
	first, second := min(i, j), max(i, j)
	ix.dead[second] = true
	ix.byKey[newKey] = first
	ix.absorb(first, ix.records[second])
}
