// Package changedetector computes field-level diffs between an item's
// current state and its last-known snapshot, applying the first-seen free
// pass rule and include/exclude field filtering.
package changedetector

import (
	"context"
	"fmt"
	"reflect"
	"regexp"

	"github.com/bburrets/sp-webhook-integration-sub001/pkg/jsonpath"
)

// FieldChange records the before/after values of one modified field.
type FieldChange struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

// Diff is the outcome of comparing a previous snapshot against current
// fields.
type Diff struct {
	Added               []string               `json:"added"`
	Removed             []string               `json:"removed"`
	Modified            map[string]FieldChange `json:"modified"`
	IsFirstTimeTracking bool                   `json:"is_first_time_tracking"`
}

// HasChanges reports whether the diff carries any added/removed/modified
// entries (first-seen diffs never do).
func (d Diff) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0 || len(d.Modified) > 0
}

// SnapshotStore is the persistence dependency ChangeDetector needs: load
// the prior baseline and replace it with the current field set. Satisfied
// by internal/statestore.Store.
type SnapshotStore interface {
	Get(ctx context.Context, resource, itemID string) (map[string]interface{}, bool, error)
	Put(ctx context.Context, resource, itemID string, fields map[string]interface{}) error
}

// Detector computes Diffs against a SnapshotStore baseline.
type Detector struct {
	store SnapshotStore
}

// New builds a Detector backed by store.
func New(store SnapshotStore) *Detector {
	return &Detector{store: store}
}

// Detect compares current against the stored snapshot for (resource,
// itemID), applies include (before exclude) field filtering, replaces the
// stored snapshot with current, and returns the resulting Diff.
func (d *Detector) Detect(ctx context.Context, resource, itemID string, current map[string]interface{}, includeFields, excludeFields []string) (Diff, error) {
	previous, found, err := d.store.Get(ctx, resource, itemID)
	if err != nil {
		return Diff{}, fmt.Errorf("failed to load previous snapshot, resource: %s, item: %s: %w", resource, itemID, err)
	}

	var diff Diff
	if !found {
		diff = Diff{IsFirstTimeTracking: true, Modified: map[string]FieldChange{}}
	} else {
		diff = compare(previous, current)
	}

	diff = applyFieldFilter(diff, includeFields, excludeFields)

	if err := d.store.Put(ctx, resource, itemID, current); err != nil {
		return Diff{}, fmt.Errorf("failed to persist current snapshot, resource: %s, item: %s: %w", resource, itemID, err)
	}
	return diff, nil
}

// Previous returns the last-stored snapshot for (resource, itemID), if
// any, without mutating it. Callers that need prior state independently of
// a rendered Diff -- e.g. a should_process transition check -- use this
// instead of Detect, which always replaces the stored baseline.
func (d *Detector) Previous(ctx context.Context, resource, itemID string) (map[string]interface{}, bool, error) {
	previous, found, err := d.store.Get(ctx, resource, itemID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load previous snapshot, resource: %s, item: %s: %w", resource, itemID, err)
	}
	return previous, found, nil
}

// compare performs the field-by-field comparison described by §4.3: keys
// present only in current are added, only in previous are removed, present
// in both but structurally unequal are modified.
func compare(previous, current map[string]interface{}) Diff {
	diff := Diff{Modified: map[string]FieldChange{}}

	for key, curVal := range current {
		prevVal, existed := previous[key]
		if !existed {
			diff.Added = append(diff.Added, key)
			continue
		}
		if !valuesEqual(prevVal, curVal) {
			diff.Modified[key] = FieldChange{Old: prevVal, New: curVal}
		}
	}
	for key := range previous {
		if _, stillPresent := current[key]; !stillPresent {
			diff.Removed = append(diff.Removed, key)
		}
	}
	return diff
}

// valuesEqual compares two field values by structural equality, treating
// timestamp-shaped strings specially so trailing fractional-second zeros
// don't produce spurious diffs.
func valuesEqual(a, b interface{}) bool {
	as, aIsString := a.(string)
	bs, bIsString := b.(string)
	if aIsString && bIsString {
		return normalizeTimestamp(as) == normalizeTimestamp(bs)
	}
	return reflect.DeepEqual(a, b)
}

var timestampFractionPattern = regexp.MustCompile(`(T\d{2}:\d{2}:\d{2})\.(\d+?)0*(Z|[+-]\d{2}:\d{2})`)

// normalizeTimestamp collapses trailing zeros on an ISO-8601 fractional
// seconds component. Non-timestamp strings pass through unchanged.
func normalizeTimestamp(s string) string {
	return timestampFractionPattern.ReplaceAllStringFunc(s, func(m string) string {
		groups := timestampFractionPattern.FindStringSubmatch(m)
		if groups[2] == "" {
			return groups[1] + groups[3]
		}
		return groups[1] + "." + groups[2] + groups[3]
	})
}

// applyFieldFilter applies an include allowlist (if any) then an exclude
// denylist to every field-name-bearing slice/map in diff.
func applyFieldFilter(diff Diff, includeFields, excludeFields []string) Diff {
	if len(includeFields) == 0 && len(excludeFields) == 0 {
		return diff
	}
	keep := func(field string) bool {
		if len(includeFields) > 0 && !contains(includeFields, field) {
			return false
		}
		return !contains(excludeFields, field)
	}

	filtered := Diff{IsFirstTimeTracking: diff.IsFirstTimeTracking, Modified: map[string]FieldChange{}}
	for _, f := range diff.Added {
		if keep(f) {
			filtered.Added = append(filtered.Added, f)
		}
	}
	for _, f := range diff.Removed {
		if keep(f) {
			filtered.Removed = append(filtered.Removed, f)
		}
	}
	for f, change := range diff.Modified {
		if keep(f) {
			filtered.Modified[f] = change
		}
	}
	return filtered
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// FilterFields returns a copy of fields containing only the entries
// selected by includeFields (applied before excludeFields). Used by
// Forwarder to build with_data/with_changes envelopes honoring the same
// include/exclude semantics as diffing.
func FilterFields(fields map[string]interface{}, includeFields, excludeFields []string) map[string]interface{} {
	if len(includeFields) == 0 && len(excludeFields) == 0 {
		return fields
	}
	keep := func(field string) bool {
		if len(includeFields) > 0 && !contains(includeFields, field) {
			return false
		}
		return !contains(excludeFields, field)
	}
	out := make(map[string]interface{})
	for k, v := range fields {
		if keep(k) {
			out[k] = v
		}
	}
	return out
}

// Select resolves a dotted field path against fields using pkg/jsonpath,
// letting processors reach nested values (e.g. "Status.Value") for
// trigger-field comparisons.
func Select(fields map[string]interface{}, path string) (interface{}, bool) {
	v, ok, err := jsonpath.Select(fields, path)
	if err != nil {
		return nil, false
	}
	return v, ok
}
