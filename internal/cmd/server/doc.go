// Package serverrun is the long-running entrypoint used by the CLI: it opens
// the runtime, keeps chains open so background compaction runs, and serves
// Prometheus metrics and a health probe.
//
// Example:
//
//	opts := serverrun.Options{Config: config.Default(), HTTPAddr: ":9464", Chains: []string{"default/orders"}}
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, opts)
package serverrun
