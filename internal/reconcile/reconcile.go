// Package reconcile decides, listing by listing, whether the remote catalog
// agrees with the local exports and what correction to send when it does
// not.
//
// The product set and identifier index are built once and shared read-only
// by every worker. Outcomes funnel through a single collector, so a Sink
// never sees concurrent calls.
package reconcile

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/pricesync/internal/catalog"
	"github.com/JonMunkholm/pricesync/internal/index"
	"github.com/JonMunkholm/pricesync/internal/report"
)

// Sink receives every outcome. Calls are serialized by the reconciler.
type Sink interface {
	Record(Outcome)
}

// DuplicateRecorder is implemented by sinks that also want the duplicate
// UPC report at the start of a run.
type DuplicateRecorder interface {
	RecordDuplicate(index.Duplicate)
}

// Options are fixed at construction; nothing is looked up during a run.
type Options struct {
	// DryRun classifies and logs but sends no update commands.
	DryRun bool
	// Workers bounds concurrent listing reconciliation. <= 0 means 1.
	Workers int
	// SyncStock attaches stock corrections to matched listings.
	SyncStock bool
	// Changed, when non-nil, limits corrections to these products. A
	// listing resolved to any other product is skipped. Resolution itself
	// still uses the full product set and index.
	Changed report.Products
}

// Summary totals one run.
type Summary struct {
	Listings       int          `json:"listings"`
	Skipped        int          `json:"skipped"`
	Counts         map[Kind]int `json:"counts"`
	Duplicates     int          `json:"duplicates"`
	Commands       int          `json:"commands"`
	Updates        int          `json:"updates"`
	UpdateFailures int          `json:"updateFailures"`
	// FetchErr is why paging stopped early, if it did. Listings that had
	// already arrived were still reconciled.
	FetchErr error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Reconciler matches remote listings against one local snapshot.
type Reconciler struct {
	products report.Products
	idx      *index.Index
	opts     Options
}

// New builds a reconciler. products and idx must not be modified afterwards.
func New(products report.Products, idx *index.Index, opts Options) *Reconciler {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if idx == nil {
		idx, _ = index.Build(products)
	}
	return &Reconciler{products: products, idx: idx, opts: opts}
}

// Decide classifies an active listing. It returns false for an inactive
// listing, or one resolved to a product outside Options.Changed; neither
// produces an outcome.
func (r *Reconciler) Decide(l catalog.Listing) (Outcome, bool) {
	if !l.Active {
		return Outcome{}, false
	}

	o := Outcome{
		ListingID:         l.ID,
		SKU:               l.SKU,
		DisplayName:       l.DisplayName,
		RemotePrice:       l.Price,
		RemoteQuantity:    l.Quantity,
		HasRemoteQuantity: l.HasQuantity,
	}
	if l.HasBarcode {
		o.Barcode = l.Barcode.String()
	}

	var p *report.Product
	if l.SKU != "" {
		p = r.products[l.SKU]
	}
	if p != nil {
		o.MatchedBy = MatchSKU
	} else if l.HasBarcode {
		match, duplicate, found := r.idx.Lookup(l.Barcode)
		if found && duplicate {
			o.Kind = DuplicateUpc
			return o, true
		}
		if found {
			p, o.MatchedBy = match, MatchBarcode
		}
	}

	if p == nil {
		o.Kind = NotFound
		return o, true
	}

	if r.opts.Changed != nil {
		if _, changed := r.opts.Changed[p.SKU]; !changed {
			return Outcome{}, false
		}
	}

	o.LocalSKU = p.DisplaySKU
	o.LocalPrice = p.ListPrice
	o.LocalStock = p.Stock

	cmd := catalog.UpdateCommand{
		ListingID:       l.ID,
		ProductID:       l.ProductID,
		InventoryItemID: l.InventoryItemID,
		SKU:             l.SKU,
	}

	switch {
	case l.Price == p.ListPrice:
		o.Kind = Equal
	case l.Price > p.ListPrice:
		// A cheaper local list price is never pushed; someone has to decide.
		o.Kind = Greater
	default:
		o.Kind = Adjusted
		price := max(l.Price, p.ListPrice)
		cmd.Price = &price
	}

	if r.opts.SyncStock && l.HasQuantity {
		// The storefront holds whole units; a partial unit is not for sale.
		stock := math.Trunc(max(p.Stock, 0))
		if stock != float64(l.Quantity) {
			cmd.Stock = &stock
		}
	}

	if !cmd.Empty() {
		o.Command = &cmd
	}
	return o, true
}

// Malformed is the outcome for a node Classify rejected.
func Malformed(node catalog.RawNode, err error) Outcome {
	o := Outcome{Kind: MalformedListing, ListingID: node.ID, DisplayName: node.DisplayName, Err: err}
	if node.SKU != nil {
		o.SKU = *node.SKU
	}
	return o
}

type collector struct {
	mu      sync.Mutex
	sink    Sink
	summary Summary
}

func (c *collector) record(o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.summary.Counts[o.Kind]++
	if o.Command != nil {
		c.summary.Commands++
		if o.Dispatched {
			c.summary.Updates++
		}
		if o.UpdateErr != nil {
			c.summary.UpdateFailures++
		}
	}
	if c.sink != nil {
		c.sink.Record(o)
	}
}

func (c *collector) seen(skipped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.summary.Listings++
	if skipped {
		c.summary.Skipped++
	}
}

// Run pages through src and reconciles every listing. It never fails: a
// paging error ends the stream early and is reported in Summary.FetchErr,
// and update failures are counted on the outcomes that caused them.
func (r *Reconciler) Run(ctx context.Context, src catalog.Source, upd catalog.Updater, sink Sink) Summary {
	start := time.Now()
	col := &collector{sink: sink, summary: Summary{Counts: make(map[Kind]int, len(Kinds))}}

	dups := r.idx.Duplicates()
	col.summary.Duplicates = len(dups)
	if rec, ok := sink.(DuplicateRecorder); ok {
		for _, d := range dups {
			rec.RecordDuplicate(d)
		}
	}

	var g errgroup.Group
	g.SetLimit(r.opts.Workers)

	fetchErr := src.Pages(ctx, func(nodes []catalog.RawNode) error {
		for _, node := range nodes {
			if err := ctx.Err(); err != nil {
				return err
			}
			g.Go(func() error {
				r.handle(ctx, node, upd, col)
				return nil
			})
		}
		return nil
	})
	g.Wait()

	col.summary.FetchErr = fetchErr
	col.summary.Duration = time.Since(start)
	return col.summary
}

func (r *Reconciler) handle(ctx context.Context, node catalog.RawNode, upd catalog.Updater, col *collector) {
	l, err := catalog.Classify(node)
	if err != nil {
		col.seen(false)
		col.record(Malformed(node, err))
		return
	}

	o, ok := r.Decide(l)
	col.seen(!ok)
	if !ok {
		return
	}

	if o.Command != nil && !r.opts.DryRun && upd != nil {
		if err := upd.Update(ctx, *o.Command); err != nil {
			o.UpdateErr = err
		} else {
			o.Dispatched = true
		}
	}

	col.record(o)
}
