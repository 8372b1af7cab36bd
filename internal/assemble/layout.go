package assemble

import (
	"fmt"
	"sort"

	"github.com/local/cardbatch/internal/manifest"
)

// Item is one finalized image headed for the output document.
type Item struct {
	Path        string
	Side        manifest.Side
	RowIndex    int
	DisplayName string
}

// Caption renders the label drawn under an item: "{row+1}_{name}_{side}",
// or "{row+1}_{side}" when the row carries no display name.
func Caption(it Item) string {
	if it.DisplayName == "" {
		return fmt.Sprintf("%d_%s", it.RowIndex+1, it.Side)
	}
	return fmt.Sprintf("%d_%s_%s", it.RowIndex+1, it.DisplayName, it.Side)
}

// Order arranges items into the canonical document sequence: ascending row
// index, front before back within a row. Items sharing row and side (a
// multi-select) keep their accumulation order. Arrival order never matters.
func Order(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RowIndex != out[j].RowIndex {
			return out[i].RowIndex < out[j].RowIndex
		}
		return sideRank(out[i].Side) < sideRank(out[j].Side)
	})
	return out
}

func sideRank(s manifest.Side) int {
	if s == manifest.SideFront {
		return 0
	}
	return 1
}

// Paginate splits an ordered sequence into fixed-capacity pages.
func Paginate(items []Item, perPage int) [][]Item {
	if perPage <= 0 || len(items) == 0 {
		return nil
	}
	var pages [][]Item
	for start := 0; start < len(items); start += perPage {
		end := start + perPage
		if end > len(items) {
			end = len(items)
		}
		pages = append(pages, items[start:end])
	}
	return pages
}
