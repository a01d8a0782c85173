package report

// reader.go reads export files into raw rows.
//
// The accounting package writes tab-delimited text with no quoting, in
// whatever code page the workstation uses. Operators sometimes re-save an
// export from a spreadsheet, so .xlsx workbooks are accepted as well.

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ContextCheckInterval is how often (in rows) reading checks for cancellation.
var ContextCheckInterval = 1000

// maxLineSize bounds a single export line.
const maxLineSize = 1 << 20

// ReadOptions controls how an export file is decoded.
type ReadOptions struct {
	// Encoding is a WHATWG encoding label such as "utf-8" or "windows-1252".
	// Empty means UTF-8. Ignored for .xlsx files.
	Encoding string

	// Sheet selects the worksheet of an .xlsx file. Empty means the first.
	Sheet string
}

// ReadRows reads every row of a tab-delimited export or an .xlsx workbook.
// Blank lines are kept as blank rows, so rows[i] is file line (or sheet row)
// i+1 and RowError.Row points at the line an operator will find.
func ReadRows(ctx context.Context, path string, opts ReadOptions) ([][]string, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return readWorkbook(path, opts.Sheet)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open report: %w", err)
	}
	defer f.Close()

	rows, err := ReadDelimited(ctx, f, opts.Encoding)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return rows, nil
}

// ReadDelimited splits r into tab-separated rows after decoding it from
// encodingLabel. A UTF-8 byte order mark is dropped and invalid UTF-8 is
// replaced rather than rejected. Blank lines stay in place; parsers skip them.
func ReadDelimited(ctx context.Context, r io.Reader, encodingLabel string) ([][]string, error) {
	dec, err := decoderFor(encodingLabel)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(transform.NewReader(r, dec))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var rows [][]string
	for line := 0; scanner.Scan(); line++ {
		if line%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("read cancelled at line %d: %w", line+1, err)
			}
		}

		text := strings.TrimRight(scanner.Text(), "\r")
		rows = append(rows, strings.Split(text, "\t"))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return rows, nil
}

func decoderFor(label string) (transform.Transformer, error) {
	label = strings.TrimSpace(label)
	if label == "" || strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "utf8") {
		return unicode.BOMOverride(unicode.UTF8.NewDecoder()), nil
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported report encoding %q: %w", label, err)
	}
	return unicode.BOMOverride(enc.NewDecoder()), nil
}

func readWorkbook(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook %s has no sheets", filepath.Base(path))
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return rows, nil
}
