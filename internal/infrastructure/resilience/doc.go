/*
Package resilience provides the circuit breaker that guards remote library
fetches.

When a CDN keeps failing, every pass that needs one of its libraries would
otherwise wait out the full retry schedule before reporting a dependency
failure. The breaker opens after repeated failures so those passes fail fast,
and probes again after a cool-down.

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                             |
	                                         [failure] -> Open

Context cancellation never counts as a failure, and Settings.IsSuccessful lets
callers exclude errors that say nothing about the remote's health (a 404 for a
mistyped locator, for example).

	breaker := resilience.New("library-fetch", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
	body, err := resilience.Execute(ctx, breaker, func(ctx context.Context) ([]byte, error) {
		return fetch(ctx, locator)
	})
*/
package resilience
