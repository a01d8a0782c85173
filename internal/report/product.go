package report

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/pricesync/internal/upc"
)

// Product is one inventory record from the accounting exports.
type Product struct {
	// SKU is the matching identity, upper-cased.
	SKU string
	// DisplaySKU keeps the case used in the export.
	DisplaySKU  string
	Description string
	UPCs        []upc.UPC
	// ListPrice and Cost are in cents.
	ListPrice int64
	Cost      int64
	// Stock is the on-hand quantity; 0 until merged from the posted export.
	Stock float64
}

// NewProduct validates every required field and returns all problems at once.
func NewProduct(sku, description string, upcs []upc.UPC, listPrice, cost int64) (*Product, error) {
	sku = strings.TrimSpace(sku)

	var errs []error
	if sku == "" {
		errs = append(errs, fmt.Errorf("sku: %w", ErrMissingField))
	}
	if listPrice < 0 {
		errs = append(errs, fmt.Errorf("list price %d: must be non-negative", listPrice))
	}
	if cost < 0 {
		errs = append(errs, fmt.Errorf("cost %d: must be non-negative", cost))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &Product{
		SKU:         NormalizeSKU(sku),
		DisplaySKU:  sku,
		Description: strings.TrimSpace(description),
		UPCs:        upcs,
		ListPrice:   listPrice,
		Cost:        cost,
	}, nil
}

// withStock returns a copy of p carrying stock.
func (p *Product) withStock(stock float64) *Product {
	cp := *p
	cp.Stock = stock
	return &cp
}

// equal reports whether two products carry the same exported values.
func (p *Product) equal(o *Product) bool {
	if p.SKU != o.SKU ||
		p.Description != o.Description ||
		p.ListPrice != o.ListPrice ||
		p.Cost != o.Cost ||
		p.Stock != o.Stock ||
		len(p.UPCs) != len(o.UPCs) {
		return false
	}
	for i := range p.UPCs {
		if p.UPCs[i] != o.UPCs[i] {
			return false
		}
	}
	return true
}

// NormalizeSKU is the case-insensitive matching form of a SKU.
func NormalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

// Products maps normalized SKU to product.
type Products map[string]*Product

// Get looks a product up by SKU, ignoring case.
func (ps Products) Get(sku string) (*Product, bool) {
	p, ok := ps[NormalizeSKU(sku)]
	return p, ok
}

// SKUs returns the normalized SKUs in sorted order.
func (ps Products) SKUs() []string {
	skus := make([]string, 0, len(ps))
	for sku := range ps {
		skus = append(skus, sku)
	}
	sort.Strings(skus)
	return skus
}

// Changed returns the products in current that are new or differ from
// previous. It is used to reconcile only what moved between two exports.
func Changed(current, previous Products) Products {
	out := make(Products)
	for sku, p := range current {
		old, ok := previous[sku]
		if !ok || !p.equal(old) {
			out[sku] = p
		}
	}
	return out
}
