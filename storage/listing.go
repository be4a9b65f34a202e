package storage

import (
	"iter"
	"sort"
)

// Listing is a lazy, single-pass sequence of attributes. A non-nil error is
// always the last value yielded.
type Listing = iter.Seq2[StorageAttributes, error]

// Collect drains a listing, stopping at the first error.
func Collect(listing Listing) ([]StorageAttributes, error) {
	var items []StorageAttributes
	for item, err := range listing {
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

// ListingOf yields items in order. Adapters that build their listing eagerly
// use it to satisfy the Listing contract.
func ListingOf(items []StorageAttributes) Listing {
	return func(yield func(StorageAttributes, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

// FailedListing yields a single error.
func FailedListing(err error) Listing {
	return func(yield func(StorageAttributes, error) bool) {
		yield(nil, err)
	}
}

// SortByPath orders attributes by path, in place.
func SortByPath(items []StorageAttributes) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].Path() < items[j].Path()
	})
}
