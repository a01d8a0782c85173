package report

import (
	"context"
	"fmt"
)

// LoadOptions names the export files for one run.
type LoadOptions struct {
	ItemPath   string
	PostedPath string

	// PreviousItemPath and PreviousPostedPath, when set, name the exports
	// from an earlier run. Snapshot.Changed then lists what moved since.
	PreviousItemPath   string
	PreviousPostedPath string

	ItemColumns   ItemColumns
	PostedColumns PostedColumns
	Read          ReadOptions
}

// Snapshot is the local side of one run.
type Snapshot struct {
	// Products is the full current export. Matching and duplicate
	// detection always run over all of it.
	Products Products

	// Changed is the subset that is new or differs from the previous
	// export. Nil when no previous export was given.
	Changed Products
}

// Load reads the item and posted exports and returns the merged products.
// Any report error aborts; nothing is reconciled from a partial load.
func Load(ctx context.Context, opts LoadOptions) (*Snapshot, error) {
	current, err := loadPair(ctx, opts.ItemPath, opts.PostedPath, opts)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Products: current}
	if opts.PreviousItemPath == "" {
		return snap, nil
	}

	previous, err := loadPair(ctx, opts.PreviousItemPath, opts.PreviousPostedPath, opts)
	if err != nil {
		return nil, fmt.Errorf("previous export: %w", err)
	}
	snap.Changed = Changed(current, previous)
	return snap, nil
}

func loadPair(ctx context.Context, itemPath, postedPath string, opts LoadOptions) (Products, error) {
	itemRows, err := ReadRows(ctx, itemPath, opts.Read)
	if err != nil {
		return nil, err
	}

	products, err := ParseItemRows(itemRows, opts.ItemColumns)
	if err != nil {
		return nil, fmt.Errorf("parse item data: %w", err)
	}

	if postedPath == "" {
		return products, nil
	}

	postedRows, err := ReadRows(ctx, postedPath, opts.Read)
	if err != nil {
		return nil, err
	}

	products, err = MergeStock(products, postedRows, opts.PostedColumns)
	if err != nil {
		return nil, fmt.Errorf("merge posted data: %w", err)
	}
	return products, nil
}
