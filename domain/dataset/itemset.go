package dataset

import (
	"fmt"
	"sort"
	"strings"

	"arvis/domain/core"
)

// Removal records why an item left the item set
type Removal struct {
	Item   string `json:"item" yaml:"item"`
	Stage  string `json:"stage" yaml:"stage"`
	Reason string `json:"reason" yaml:"reason"`
}

// ItemSet is the set of scale items under analysis. It only ever shrinks:
// every narrowing returns a new value and appends to the removal trace.
// Once frozen it refuses further narrowing.
type ItemSet struct {
	items    []string
	removals []Removal
	frozen   bool
}

// NewItemSet builds a sorted, de-duplicated item set
func NewItemSet(items []string) ItemSet {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	sort.Strings(out)
	return ItemSet{items: out}
}

// ItemSetFromColumns collects every column whose name starts with prefix
func ItemSetFromColumns(ds *Dataset, prefix string) (ItemSet, error) {
	var items []string
	for _, c := range ds.Columns {
		if c == ds.IDColumn {
			continue
		}
		if strings.HasPrefix(c, prefix) {
			items = append(items, c)
		}
	}
	if len(items) == 0 {
		return ItemSet{}, fmt.Errorf("%w in %s: no columns with prefix %q", core.ErrMissingColumn, ds.Name, prefix)
	}
	return NewItemSet(items), nil
}

// Items returns a copy of the member names in sorted order
func (s ItemSet) Items() []string {
	return append([]string(nil), s.items...)
}

// Len returns the member count
func (s ItemSet) Len() int {
	return len(s.items)
}

// Contains reports membership
func (s ItemSet) Contains(item string) bool {
	i := sort.SearchStrings(s.items, item)
	return i < len(s.items) && s.items[i] == item
}

// Frozen reports whether the set was declared final
func (s ItemSet) Frozen() bool {
	return s.frozen
}

// Removals returns the removal trace in the order removals happened
func (s ItemSet) Removals() []Removal {
	return append([]Removal(nil), s.removals...)
}

// Freeze declares the set final
func (s ItemSet) Freeze() ItemSet {
	out := s.clone()
	out.frozen = true
	return out
}

// Reopen starts a later study's working set from a final one. The frozen
// value itself is unchanged and the removal trace carries over.
func (s ItemSet) Reopen() ItemSet {
	out := s.clone()
	out.frozen = false
	return out
}

// Narrow removes the given items, recording stage and reason for each.
// Removing nothing returns an equal set.
func (s ItemSet) Narrow(stage, reason string, items ...string) (ItemSet, error) {
	if len(items) == 0 {
		return s.clone(), nil
	}
	if s.frozen {
		return s, fmt.Errorf("%w: cannot remove %s at stage %s", core.ErrItemSetFrozen, strings.Join(items, ","), stage)
	}
	drop := make(map[string]bool, len(items))
	for _, it := range items {
		if !s.Contains(it) {
			return s, fmt.Errorf("%w: %s at stage %s", core.ErrUnknownItem, it, stage)
		}
		drop[it] = true
	}
	out := s.clone()
	out.items = out.items[:0]
	for _, it := range s.items {
		if !drop[it] {
			out.items = append(out.items, it)
		}
	}
	sorted := make([]string, 0, len(drop))
	for it := range drop {
		sorted = append(sorted, it)
	}
	sort.Strings(sorted)
	for _, it := range sorted {
		out.removals = append(out.removals, Removal{Item: it, Stage: stage, Reason: reason})
	}
	return out, nil
}

// Retain keeps only the given items, recording a removal for every other member
func (s ItemSet) Retain(stage, reason string, keep []string) (ItemSet, error) {
	want := make(map[string]bool, len(keep))
	for _, k := range keep {
		if !s.Contains(k) {
			return s, fmt.Errorf("%w: %s at stage %s", core.ErrUnknownItem, k, stage)
		}
		want[k] = true
	}
	var drop []string
	for _, it := range s.items {
		if !want[it] {
			drop = append(drop, it)
		}
	}
	return s.Narrow(stage, reason, drop...)
}

// Hash identifies the membership independent of history
func (s ItemSet) Hash() core.Hash {
	return core.HashOfStrings(s.items)
}

// String renders the members as a comma-separated list
func (s ItemSet) String() string {
	return strings.Join(s.items, ",")
}

func (s ItemSet) clone() ItemSet {
	return ItemSet{
		items:    append([]string(nil), s.items...),
		removals: append([]Removal(nil), s.removals...),
		frozen:   s.frozen,
	}
}
