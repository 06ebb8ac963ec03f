package dispatch

import "github.com/aretw0/autoversion/pkg/core"

// Outcome is how the dispatcher settled an event.
type Outcome string

const (
	// OutcomeCreated means a version was requested from the version store.
	OutcomeCreated Outcome = "created"
	// OutcomeSkipped means the classifier decided against a version.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDuplicate means the node was already versioned in the unit of work.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIneligible means a precondition failed (missing, locked,
	// not versionable or temporary node).
	OutcomeIneligible Outcome = "ineligible"
	// OutcomeSuspended means the handler was disabled by its re-entrancy guard.
	OutcomeSuspended Outcome = "suspended"
)

// Observer receives dispatch outcomes. Implementations must be safe for
// concurrent use; units of work run in parallel.
type Observer interface {
	ObserveDecision(kind core.EventKind, outcome Outcome)
	ObserveHistoryDeleted(ref core.NodeRef)
}

type nopObserver struct{}

func (nopObserver) ObserveDecision(core.EventKind, Outcome) {}
func (nopObserver) ObserveHistoryDeleted(core.NodeRef)      {}
