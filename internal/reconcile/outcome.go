package reconcile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/pricesync/internal/catalog"
	"github.com/JonMunkholm/pricesync/internal/money"
)

// Kind classifies the result of reconciling one listing.
type Kind int

const (
	Adjusted Kind = iota
	Equal
	Greater
	NotFound
	DuplicateUpc
	MalformedListing
)

// Kinds lists every Kind in declaration order.
var Kinds = []Kind{Adjusted, Equal, Greater, NotFound, DuplicateUpc, MalformedListing}

var kindNames = [...]string{
	Adjusted:         "adjusted",
	Equal:            "equal",
	Greater:          "greater",
	NotFound:         "not_found",
	DuplicateUpc:     "duplicate_upc",
	MalformedListing: "malformed",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

// MarshalText lets Kind key JSON maps by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a Kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown outcome kind %q", b)
}

// How a listing was matched to a local product.
const (
	MatchSKU     = "sku"
	MatchBarcode = "barcode"
)

// Outcome is the classified result for one listing.
type Outcome struct {
	Kind        Kind
	ListingID   string
	SKU         string
	DisplayName string
	Barcode     string
	MatchedBy   string

	// LocalSKU is the matched product's SKU as exported.
	LocalSKU   string
	LocalPrice int64
	LocalStock float64

	RemotePrice       int64
	RemoteQuantity    int
	HasRemoteQuantity bool

	// Command is the correction decided for the listing, if any. It is set
	// in dry runs too; Dispatched tells whether it was sent.
	Command    *catalog.UpdateCommand
	Dispatched bool
	UpdateErr  error

	// Err explains a MalformedListing.
	Err error
}

// Message renders the outcome as one human-readable log line.
func (o Outcome) Message() string {
	var b strings.Builder

	switch o.Kind {
	case Adjusted:
		fmt.Fprintf(&b, "ADJUSTING Item %s (%s): remote price %s is below local list price %s, setting %s",
			o.SKU, o.DisplayName, money.FormatCents(o.RemotePrice), money.FormatCents(o.LocalPrice),
			money.FormatCents(max(o.RemotePrice, o.LocalPrice)))
	case Equal:
		fmt.Fprintf(&b, "NOT ADJUSTING Item %s (%s): remote price %s equals local list price",
			o.SKU, o.DisplayName, money.FormatCents(o.RemotePrice))
	case Greater:
		fmt.Fprintf(&b, "NOT ADJUSTING Item %s (%s): remote price %s is above local list price %s",
			o.SKU, o.DisplayName, money.FormatCents(o.RemotePrice), money.FormatCents(o.LocalPrice))
	case NotFound:
		fmt.Fprintf(&b, "NOT FOUND Item %s (%s)", o.SKU, o.DisplayName)
		if o.Barcode != "" {
			fmt.Fprintf(&b, " barcode %s", o.Barcode)
		}
	case DuplicateUpc:
		fmt.Fprintf(&b, "DUPLICATE UPC %s for Item %s (%s): barcode is shared by several local SKUs",
			o.Barcode, o.SKU, o.DisplayName)
	case MalformedListing:
		fmt.Fprintf(&b, "MALFORMED listing %s: %v", o.ListingID, o.Err)
	default:
		fmt.Fprintf(&b, "%s listing %s", o.Kind, o.ListingID)
	}

	if o.MatchedBy == MatchBarcode {
		fmt.Fprintf(&b, " [matched local %s by barcode %s]", o.LocalSKU, o.Barcode)
	}

	if o.Command != nil && o.Command.Stock != nil && o.HasRemoteQuantity {
		fmt.Fprintf(&b, "; stock %d -> %s", o.RemoteQuantity, strconv.FormatFloat(*o.Command.Stock, 'f', -1, 64))
	}

	if o.Command != nil && !o.Dispatched && o.UpdateErr == nil {
		b.WriteString(" (not sent)")
	}
	if o.UpdateErr != nil {
		fmt.Fprintf(&b, " (update failed: %v)", o.UpdateErr)
	}

	return b.String()
}
