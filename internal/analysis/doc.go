// Package analysis defines the data model shared by every tier of the
// triage engine and the contracts of its external collaborators.
//
// Data flow:
//
//	Request -> guest (Tier 1) -> GuestResult
//	        -> native (Tier 2, conditional) -> []SyscallEvent -> BehavioralMetrics
//	        -> verdict engine -> Result
//
// The signature scanner, ML classifier, verdict cache and quarantine store
// are consumed through the interfaces in this package only.
package analysis
