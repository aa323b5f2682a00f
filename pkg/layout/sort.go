package layout

import (
	"errors"
	"slices"
	"strings"
)

// Named is anything with a tensor name.
type Named interface {
	Name() string
}

// Entry is an item placed in the canonical layout.
type Entry[T Named] struct {
	Item T
	Role Role
	Key  OrderKey
}

// Plan resolves the role of every item and returns them in canonical order.
// All names are resolved before anything is ordered; every unrecognized name
// is reported in the joined error and no plan is returned.
//
// Items are first ordered by name, so the result does not depend on the
// order they were collected in.
func Plan[T Named](items []T) ([]Entry[T], error) {
	entries := make([]Entry[T], 0, len(items))
	var errs []error
	for _, item := range items {
		role, err := Parse(item.Name())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries = append(entries, Entry[T]{Item: item, Role: role, Key: role.Key()})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	slices.SortFunc(entries, func(a, b Entry[T]) int {
		return strings.Compare(a.Item.Name(), b.Item.Name())
	})
	slices.SortStableFunc(entries, func(a, b Entry[T]) int {
		return a.Key.Compare(b.Key)
	})
	return entries, nil
}

// Sort orders items canonically in place.
func Sort[T Named](items []T) error {
	entries, err := Plan(items)
	if err != nil {
		return err
	}
	for i, e := range entries {
		items[i] = e.Item
	}
	return nil
}
