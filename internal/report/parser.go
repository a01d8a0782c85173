package report

// parser.go turns raw export rows into Products.
//
// Column positions are a fixed contract with the accounting package's
// export layout. Both steps are fail-fast: the first bad row aborts the batch
// with a *RowError, because downstream reconciliation must not work from
// partial data.

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/pricesync/internal/money"
	"github.com/JonMunkholm/pricesync/internal/upc"
)

const (
	sourceItem   = "item"
	sourcePosted = "posted"
)

// ItemColumns are the zero-based column positions in the item export.
type ItemColumns struct {
	SKU         int
	Description int
	UPCs        int
	ListPrice   int
	Cost        int
}

// PostedColumns are the zero-based column positions in the posted export.
type PostedColumns struct {
	SKU   int
	Stock int
}

// DefaultItemColumns matches the item.data layout written by the export.
var DefaultItemColumns = ItemColumns{SKU: 0, Description: 1, UPCs: 2, ListPrice: 6, Cost: 8}

// DefaultPostedColumns matches the item_posted.data layout.
var DefaultPostedColumns = PostedColumns{SKU: 0, Stock: 19}

// ParseItemRows builds products from item export rows. Stock is 0 on every
// returned product until MergeStock runs. A repeated SKU keeps the last row.
func ParseItemRows(rows [][]string, cols ItemColumns) (Products, error) {
	products := make(Products, len(rows))

	for i, row := range rows {
		rowNum := i + 1
		if isBlank(row) {
			continue
		}

		sku, ok := cell(row, cols.SKU)
		if !ok || sku == "" {
			return nil, &RowError{Source: sourceItem, Row: rowNum, Field: "sku", Err: ErrMissingField}
		}

		desc, ok := cell(row, cols.Description)
		if !ok {
			return nil, &RowError{Source: sourceItem, Row: rowNum, Field: "description", SKU: sku, Err: ErrMissingField}
		}

		upcCell, ok := cell(row, cols.UPCs)
		if !ok {
			return nil, &RowError{Source: sourceItem, Row: rowNum, Field: "upc", SKU: sku, Err: ErrMissingField}
		}

		list, err := priceCell(row, cols.ListPrice)
		if err != nil {
			return nil, &RowError{Source: sourceItem, Row: rowNum, Field: "list_price", SKU: sku, Err: err}
		}

		cost, err := priceCell(row, cols.Cost)
		if err != nil {
			return nil, &RowError{Source: sourceItem, Row: rowNum, Field: "cost", SKU: sku, Err: err}
		}

		p, err := NewProduct(sku, desc, upc.SplitList(upcCell), list, cost)
		if err != nil {
			return nil, &RowError{Source: sourceItem, Row: rowNum, SKU: sku, Err: err}
		}
		products[p.SKU] = p
	}

	return products, nil
}

// MergeStock returns a new product set with stock taken from posted export
// rows. Posted data must be a subset of item data; an unknown SKU aborts with
// ErrUnmatchedPostedSKU and a repeated one with ErrDuplicatePostedSKU.
func MergeStock(products Products, rows [][]string, cols PostedColumns) (Products, error) {
	merged := make(Products, len(products))
	for sku, p := range products {
		merged[sku] = p
	}

	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		rowNum := i + 1
		if isBlank(row) {
			continue
		}

		sku, ok := cell(row, cols.SKU)
		if !ok || sku == "" {
			return nil, &RowError{Source: sourcePosted, Row: rowNum, Field: "sku", Err: ErrMissingField}
		}

		raw, ok := cell(row, cols.Stock)
		if !ok {
			return nil, &RowError{Source: sourcePosted, Row: rowNum, Field: "stock", SKU: sku, Err: ErrMissingField}
		}

		stock, err := parseQuantity(raw)
		if err != nil {
			return nil, &RowError{Source: sourcePosted, Row: rowNum, Field: "stock", SKU: sku, Err: err}
		}

		key := NormalizeSKU(sku)
		p, ok := products[key]
		if !ok {
			return nil, &RowError{Source: sourcePosted, Row: rowNum, SKU: sku, Err: ErrUnmatchedPostedSKU}
		}
		if first, dup := seen[key]; dup {
			return nil, &RowError{Source: sourcePosted, Row: rowNum, SKU: sku,
				Err: fmt.Errorf("%w (first at row %d)", ErrDuplicatePostedSKU, first)}
		}
		seen[key] = rowNum
		merged[key] = p.withStock(stock)
	}

	return merged, nil
}

// cell returns the cleaned value at col, or false if the row is too short.
func cell(row []string, col int) (string, bool) {
	if col < 0 || col >= len(row) {
		return "", false
	}
	return CleanCell(row[col]), true
}

func priceCell(row []string, col int) (int64, error) {
	raw, ok := cell(row, col)
	if !ok {
		return 0, ErrMissingField
	}
	cents, err := money.ParseCents(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPriceParse, err)
	}
	return cents, nil
}

func parseQuantity(raw string) (float64, error) {
	s := strings.ReplaceAll(raw, ",", "")
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrQuantityParse)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrQuantityParse, raw)
	}
	return f, nil
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// CleanCell strips the artifacts spreadsheet round-trips leave in a cell:
// surrounding whitespace, an Excel formula prefix (="...") and a matching
// pair of enclosing quotes. Inch marks inside descriptions survive.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	return strings.TrimSpace(s)
}
