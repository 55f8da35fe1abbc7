package cart

import "sort"

// ItemDiff partitions two item lists into added, removed and
// quantity-changed sets keyed by the platform-stable item key. Items without
// a usable key cannot be compared reliably and are excluded from all three
// sets; they are carried on ExcludedOld/ExcludedNew so callers can count or
// log them.
type ItemDiff struct {
	Added           []LineItem       `json:"added"`
	Removed         []LineItem       `json:"removed"`
	QuantityChanged []QuantityChange `json:"quantity_changed"`
	ExcludedOld     []LineItem       `json:"-"`
	ExcludedNew     []LineItem       `json:"-"`
}

// HasChanges reports whether the diff carries any added, removed or
// quantity-changed entries.
func (d ItemDiff) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0 || len(d.QuantityChanged) > 0
}

// DiffItems compares two item lists by key. Keys present only in newItems
// are added, keys present only in oldItems are removed, and intersecting
// keys with differing quantities produce a QuantityChange built from the new
// record. When a key repeats within one side the last occurrence wins.
// Output slices are sorted by key so the same inputs always compare equal.
func DiffItems(oldItems, newItems []LineItem) ItemDiff {
	oldByKey, excludedOld := keyItems(oldItems)
	newByKey, excludedNew := keyItems(newItems)

	diff := ItemDiff{
		Added:           []LineItem{},
		Removed:         []LineItem{},
		QuantityChanged: []QuantityChange{},
		ExcludedOld:     excludedOld,
		ExcludedNew:     excludedNew,
	}

	for key, newItem := range newByKey {
		oldItem, exists := oldByKey[key]
		if !exists {
			diff.Added = append(diff.Added, newItem)
			continue
		}
		if newItem.Quantity != oldItem.Quantity {
			diff.QuantityChanged = append(diff.QuantityChanged, QuantityChange{
				LineItem:    newItem,
				OldQuantity: oldItem.Quantity,
				NewQuantity: newItem.Quantity,
			})
		}
	}

	for key, oldItem := range oldByKey {
		if _, exists := newByKey[key]; !exists {
			diff.Removed = append(diff.Removed, oldItem)
		}
	}

	sort.Slice(diff.Added, func(i, j int) bool { return diff.Added[i].Key < diff.Added[j].Key })
	sort.Slice(diff.Removed, func(i, j int) bool { return diff.Removed[i].Key < diff.Removed[j].Key })
	sort.Slice(diff.QuantityChanged, func(i, j int) bool {
		return diff.QuantityChanged[i].Key < diff.QuantityChanged[j].Key
	})

	return diff
}

func keyItems(items []LineItem) (map[string]LineItem, []LineItem) {
	keyed := make(map[string]LineItem, len(items))
	excluded := []LineItem{}
	for _, item := range items {
		if item.Key == "" {
			excluded = append(excluded, item)
			continue
		}
		keyed[item.Key] = item
	}
	return keyed, excluded
}
