package web

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/pricesync/internal/core"
	"github.com/JonMunkholm/pricesync/internal/reconcile"
)

const pageStyle = `body{font-family:sans-serif;margin:2rem;color:#222}` +
	`table{border-collapse:collapse;width:100%}` +
	`th,td{border-bottom:1px solid #ddd;padding:.4rem .6rem;text-align:left;font-size:.9rem}` +
	`.partial{color:#a60}.failed{color:#b00}.succeeded{color:#070}.running{color:#046}`

// runsPage lists recent runs with their outcome counts.
func runsPage(runs []*core.RunRecord, status core.RunLimiterStatus) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &htmlWriter{w: w}
		p.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>pricesync runs</title><style>`)
		p.raw(pageStyle)
		p.raw(`</style></head><body><h1>Reconciliation runs</h1>`)
		p.raw(`<p>Active runs: `)
		p.text(fmt.Sprintf("%d of %d", status.Active, status.MaxConcurrent))
		p.raw(`</p>`)

		if len(runs) == 0 {
			p.raw(`<p>No runs yet.</p></body></html>`)
			return p.err
		}

		p.raw(`<table><thead><tr><th>Started</th><th>Trigger</th><th>Status</th><th>Products</th><th>Listings</th>`)
		for _, k := range reconcile.Kinds {
			p.raw(`<th>`)
			p.text(k.String())
			p.raw(`</th>`)
		}
		p.raw(`<th>Updates</th><th>Duration</th><th>Error</th></tr></thead><tbody>`)

		for _, run := range runs {
			runRow(p, run)
		}
		p.raw(`</tbody></table></body></html>`)
		return p.err
	})
}

func runRow(p *htmlWriter, run *core.RunRecord) {
	p.raw(`<tr><td title="`)
	p.text(run.ID)
	p.raw(`">`)
	p.text(run.StartedAt.Format(time.DateTime))
	p.raw(`</td><td>`)
	p.text(string(run.Trigger))
	if run.DryRun {
		p.text(" (dry)")
	}
	p.raw(`</td><td class="`)
	p.text(string(run.Status))
	p.raw(`">`)
	p.text(string(run.Status))
	p.raw(`</td><td>`)
	p.text(strconv.Itoa(run.Products))
	p.raw(`</td>`)

	sum := run.Summary
	if sum == nil {
		sum = &reconcile.Summary{}
	}
	p.cell(strconv.Itoa(sum.Listings))
	for _, k := range reconcile.Kinds {
		p.cell(strconv.Itoa(sum.Counts[k]))
	}
	p.cell(fmt.Sprintf("%d/%d", sum.Updates, sum.Commands))

	duration := ""
	if run.FinishedAt != nil {
		duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
	}
	p.cell(duration)

	msg := run.Error
	if msg == "" {
		msg = run.FetchError
	}
	p.cell(msg)
	p.raw(`</tr>`)
}

// htmlWriter keeps the first write error so markup can be emitted
// without checking each call.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (p *htmlWriter) raw(s string) {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, s)
	}
}

func (p *htmlWriter) text(s string) {
	p.raw(templ.EscapeString(s))
}

func (p *htmlWriter) cell(s string) {
	p.raw(`<td>`)
	p.text(s)
	p.raw(`</td>`)
}
