package incidents

import "fmt"

const (
	StatusNew               = "new"
	StatusAcknowledged      = "acknowledged"
	StatusProposalRequested = "proposal_requested"
	StatusProposalSubmitted = "proposal_submitted"
	StatusProposalSigned    = "proposal_signed"
	StatusActive            = "active"
	StatusOnHold            = "on_hold"
	StatusCompleted         = "completed"
	StatusCompletedBilled   = "completed_billed"
	StatusPaid              = "paid"
	StatusClosed            = "closed"
)

const (
	ProjectTypeStandard      = "standard"
	ProjectTypeEmergency     = "emergency"
	ProjectTypeMitigationRFQ = "mitigation_rfq"
	ProjectTypeBuildbackRFQ  = "buildback_rfq"
)

// transitionGraph is the entire lifecycle as data: a transition is
// legal iff the target is a direct successor here. `new` is only ever
// a creation-time status and `closed` is reachable solely from `paid`.
var transitionGraph = map[string][]string{
	StatusNew:               {StatusAcknowledged},
	StatusAcknowledged:      {StatusActive, StatusOnHold, StatusProposalRequested},
	StatusProposalRequested: {StatusProposalSubmitted},
	StatusProposalSubmitted: {StatusProposalSigned},
	StatusProposalSigned:    {StatusActive},
	StatusActive:            {StatusOnHold, StatusCompleted},
	StatusOnHold:            {StatusActive, StatusCompleted},
	StatusCompleted:         {StatusCompletedBilled, StatusActive},
	StatusCompletedBilled:   {StatusPaid, StatusActive},
	StatusPaid:              {StatusClosed},
	StatusClosed:            {},
}

type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

func KnownStatus(status string) bool {
	_, ok := transitionGraph[status]
	return ok
}

// Successors returns the direct successor set for a status; the
// returned slice must not be mutated.
func Successors(status string) []string {
	return transitionGraph[status]
}

func IsQuotePath(projectType string) bool {
	return projectType == ProjectTypeMitigationRFQ || projectType == ProjectTypeBuildbackRFQ
}

// CanTransition checks the edge set. The proposal chain entry is only
// open to quote-path incidents; everything else applies uniformly.
func CanTransition(projectType, from, to string) bool {
	if to == StatusProposalRequested && !IsQuotePath(projectType) {
		return false
	}
	for _, next := range transitionGraph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// BeforeActive reports whether a status sits below the "actively being
// worked" threshold; the escalation engine only keeps escalating while
// this holds.
func BeforeActive(status string) bool {
	switch status {
	case StatusNew, StatusAcknowledged, StatusProposalRequested, StatusProposalSubmitted, StatusProposalSigned:
		return true
	}
	return false
}
