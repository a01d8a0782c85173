// Package core orchestrates reconciliation runs.
//
// A run loads the accounting exports, builds the UPC index, pages through the
// remote catalog and reconciles every listing, writing outcomes to the
// configured sinks. Service is shared by the CLI, the HTTP API and the
// periodic scheduler:
//
//	svc := core.NewService(client, client, opts)
//	rec, err := svc.Run(ctx, core.RunRequest{Trigger: core.TriggerCLI})
//
// Only one run executes at a time by default (see RunLimiter). Finished runs
// are kept in an in-memory History for the life of the process.
package core
