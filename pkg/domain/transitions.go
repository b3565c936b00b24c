package domain

// transitions is the legal status edge table. Archived is terminal and is
// additionally reachable from any state as an administrative close.
var transitions = map[CaseStatus][]CaseStatus{
	StatusNew:               {StatusTriaged},
	StatusTriaged:           {StatusInProgress, StatusResolved},
	StatusInProgress:        {StatusWaitingOnCustomer, StatusResolved},
	StatusWaitingOnCustomer: {StatusInProgress},
	StatusResolved:          {StatusArchived},
	StatusArchived:          {},
}

// ValidStatus reports whether s is a known case status.
func ValidStatus(s CaseStatus) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the edge from→to is in the transition table.
func CanTransition(from, to CaseStatus) bool {
	if !ValidStatus(from) || !ValidStatus(to) {
		return false
	}
	if to == StatusArchived {
		return from != StatusArchived
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CustomerReply is the single transition a customer may request on their own
// case: replying while the case waits on them.
func CustomerReply(from, to CaseStatus) bool {
	return from == StatusWaitingOnCustomer && to == StatusInProgress
}
