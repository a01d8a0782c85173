// Package index maps canonical UPCs to local products.
//
// A UPC carried by more than one SKU is kept in the index but flagged. Callers
// must treat a flagged match as unreliable; the colliding SKUs are reported
// separately through Duplicates.
package index

import (
	"sort"

	"github.com/JonMunkholm/pricesync/internal/report"
	"github.com/JonMunkholm/pricesync/internal/upc"
)

// Duplicate is a UPC shared by two or more products.
type Duplicate struct {
	UPC  upc.UPC
	SKUs []string
}

type entry struct {
	product   *report.Product
	duplicate bool
}

// Index is read-only after Build and safe for concurrent lookups.
type Index struct {
	entries    map[upc.UPC]*entry
	duplicates []Duplicate
}

// Build indexes every UPC of every product. Products are visited in SKU
// order so the result is deterministic, but which colliding product holds a
// flagged slot is not something callers should rely on.
func Build(products report.Products) (*Index, []Duplicate) {
	idx := &Index{entries: make(map[upc.UPC]*entry)}
	holders := make(map[upc.UPC][]string)

	for _, sku := range products.SKUs() {
		p := products[sku]
		for _, u := range p.UPCs {
			if seen(holders[u], p.SKU) {
				continue
			}
			holders[u] = append(holders[u], p.SKU)

			if e, ok := idx.entries[u]; ok {
				e.duplicate = true
				continue
			}
			idx.entries[u] = &entry{product: p}
		}
	}

	for u, e := range idx.entries {
		if e.duplicate {
			idx.duplicates = append(idx.duplicates, Duplicate{UPC: u, SKUs: holders[u]})
		}
	}
	sort.Slice(idx.duplicates, func(i, j int) bool {
		return idx.duplicates[i].UPC.String() < idx.duplicates[j].UPC.String()
	})

	return idx, idx.Duplicates()
}

// seen reports whether sku already listed this UPC. A product that repeats
// its own UPC is not a duplicate.
func seen(skus []string, sku string) bool {
	for _, s := range skus {
		if s == sku {
			return true
		}
	}
	return false
}

// Lookup returns the product indexed under u. duplicate is true when more
// than one SKU carries u.
func (idx *Index) Lookup(u upc.UPC) (p *report.Product, duplicate bool, ok bool) {
	e, ok := idx.entries[u]
	if !ok {
		return nil, false, false
	}
	return e.product, e.duplicate, true
}

// Len is the number of distinct UPCs indexed.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Duplicates returns a copy of the duplicate report, ordered by UPC.
func (idx *Index) Duplicates() []Duplicate {
	out := make([]Duplicate, len(idx.duplicates))
	copy(out, idx.duplicates)
	return out
}
