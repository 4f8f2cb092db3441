/*
Package orchestrator routes each file through the analysis tiers.

Every request runs Tier 1 in the guest runtime. Only when that result is
inconclusive or timed out does the file escalate to the native sandbox.
The verdict engine then combines the tier scores with the external
signature and ML signals.

	Request -> cache -> Tier 1 --decisive--> verdict
	                      |
	                  escalate
	                      v
	                   Tier 2 -------------> verdict

Analyze never returns an error. When the pipeline itself cannot run the
result is a conservative Suspicious verdict in the failed state.
*/
package orchestrator
