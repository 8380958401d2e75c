// Package dispatch runs one rate-limited call per batch item and collects
// the results in batch order.
//
// Every item gets its own goroutine. Each goroutine waits for a slot from
// the shared ratelimit.Limiter, then calls the worker under the configured
// per-call timeout. The limiter spaces the start of calls; it does not cap
// how many are in flight.
//
// Example usage:
//
//	d := dispatch.New[provider.Image, string](limiter, dispatch.DefaultConfig())
//	results, err := d.Run(ctx, images, captionWorker, func(done, total int) {
//		fmt.Printf("%d/%d\n", done, total)
//	})
//
// The dispatcher:
//   - restores batch order regardless of completion order
//   - reports progress once per successful item, never decreasing
//   - fails the whole batch on the first item error (*ItemError) and
//     discards every partial result
//   - cancels items still waiting for a slot once the batch has failed
package dispatch
