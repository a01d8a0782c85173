package report

import (
	"errors"
	"fmt"
)

// Report errors abort the whole run. Reconciling against partial local data
// would silently misprice whatever was dropped.
var (
	ErrMissingField       = errors.New("missing field")
	ErrPriceParse         = errors.New("price parse error")
	ErrQuantityParse      = errors.New("quantity parse error")
	ErrUnmatchedPostedSKU = errors.New("posted sku not found in item data")
	ErrDuplicatePostedSKU = errors.New("posted sku appears more than once")
)

// RowError locates a report error. Row is the 1-based line of the export
// file (or row of the sheet), blank lines included.
type RowError struct {
	Source string
	Row    int
	Field  string
	SKU    string
	Err    error
}

func (e *RowError) Error() string {
	msg := fmt.Sprintf("%s row %d", e.Source, e.Row)
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.SKU != "" {
		msg += fmt.Sprintf(" (sku %q)", e.SKU)
	}
	return msg + ": " + e.Err.Error()
}

func (e *RowError) Unwrap() error {
	return e.Err
}
