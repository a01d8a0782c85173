// Package catalog describes remote storefront listings and the collaborator
// contracts used to page through them and push corrections back.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/pricesync/internal/money"
	"github.com/JonMunkholm/pricesync/internal/upc"
)

// StatusActive is the product status that makes a listing eligible.
const StatusActive = "ACTIVE"

var (
	ErrMissingSKU = errors.New("listing has no sku")
	ErrBadPrice   = errors.New("listing price is not parseable")
)

// RawNode is one listing as the remote catalog returns it. Optional fields
// are pointers so that absent and empty can be told apart.
type RawNode struct {
	ID                string
	SKU               *string
	DisplayName       string
	Price             string
	Barcode           *string
	InventoryQuantity *int
	InventoryItemID   string
	ProductID         string
	ProductStatus     string
}

// Listing is a classified, well-formed remote listing.
type Listing struct {
	ID              string
	SKU             string
	DisplayName     string
	Price           int64
	Barcode         upc.UPC
	HasBarcode      bool
	Quantity        int
	HasQuantity     bool
	InventoryItemID string
	ProductID       string
	Active          bool
}

// MalformedError reports a node that could not be classified.
type MalformedError struct {
	ID  string
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("listing %s: %v", e.ID, e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// Classify turns a raw node into a Listing. An absent SKU field or an
// unparseable price makes the node malformed; an unusable barcode only means
// the listing cannot be matched by barcode.
//
// A SKU that is present but blank is kept as "". The storefront reports
// variants without a SKU that way, and they can still match by barcode.
func Classify(node RawNode) (Listing, error) {
	if node.SKU == nil {
		return Listing{}, &MalformedError{ID: node.ID, Err: ErrMissingSKU}
	}

	price, err := money.ParseCents(node.Price)
	if err != nil {
		return Listing{}, &MalformedError{ID: node.ID, Err: fmt.Errorf("%w: %w", ErrBadPrice, err)}
	}

	l := Listing{
		ID:              node.ID,
		SKU:             strings.ToUpper(strings.TrimSpace(*node.SKU)),
		DisplayName:     node.DisplayName,
		Price:           price,
		InventoryItemID: node.InventoryItemID,
		ProductID:       node.ProductID,
		Active:          node.ProductStatus == StatusActive,
	}

	if node.Barcode != nil {
		if u, err := upc.ParseStrict(*node.Barcode); err == nil {
			l.Barcode, l.HasBarcode = u, true
		}
	}
	if node.InventoryQuantity != nil {
		l.Quantity, l.HasQuantity = *node.InventoryQuantity, true
	}

	return l, nil
}

// UpdateCommand is a correction for one listing. A nil field is left alone.
type UpdateCommand struct {
	ListingID       string
	ProductID       string
	InventoryItemID string
	SKU             string
	Price           *int64
	Stock           *float64
}

// Empty reports whether the command changes nothing.
func (c UpdateCommand) Empty() bool {
	return c.Price == nil && c.Stock == nil
}

// Source pages through remote listings. fn is called once per page; paging
// stops at the first error from fn or from the remote side.
type Source interface {
	Pages(ctx context.Context, fn func([]RawNode) error) error
}

// Updater applies update commands to the remote catalog.
type Updater interface {
	Update(ctx context.Context, cmd UpdateCommand) error
}
