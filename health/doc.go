// Package health tracks the health of protocol adapters.
//
// An AdapterChecker periodically creates each active adapter definition
// through the factory registry, runs its TestConnection and destroys it.
// The outcome lands in a Monitor under "adapter:<definition id>":
//
//	monitor := health.NewMonitor("flowbridge", health.WithCoreMetrics(core))
//	checker := health.NewAdapterChecker(store, registry, monitor)
//	go checker.Run(ctx, time.Minute)
//
//	http.Handle("/health", monitor) // 503 while any adapter is unhealthy
//
// Failure messages are passed through Sanitize before they are stored, so
// endpoints, file paths, addresses and credentials that adapter errors tend
// to carry never reach a health response.
//
// Aggregation: any unhealthy adapter makes the aggregate unhealthy, else
// any degraded adapter makes it degraded, else it is healthy.
package health
