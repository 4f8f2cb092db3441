/*
Package resilience provides a circuit breaker for optional dependencies.

The verdict cache sits behind one: when lookups or stores keep failing the
breaker opens and analyses proceed uncached until a trial request succeeds.

# Usage

	breaker := resilience.New("verdict-cache", resilience.Settings{
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})

	hit, err := resilience.Do(breaker, func() (*analysis.Result, error) {
		return backend.Get(key)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                         Open
*/
package resilience
