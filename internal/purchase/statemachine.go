package purchase

// transitions is the fixed, total lifecycle graph. Every status has a defined
// outgoing set; terminal states map to an empty set. Rejection of a
// pending_approval order returns it to draft by default, so draft is part of
// pending_approval's outgoing set alongside the terminal cancellation path.
var transitions = map[Status][]Status{
	StatusDraft:             {StatusPendingApproval, StatusCancelled},
	StatusPendingApproval:   {StatusApproved, StatusDraft, StatusCancelled},
	StatusApproved:          {StatusSentToSupplier, StatusCancelled},
	StatusSentToSupplier:    {StatusPartiallyReceived, StatusFullyReceived, StatusCancelled},
	StatusPartiallyReceived: {StatusPartiallyReceived, StatusFullyReceived, StatusCancelled},
	StatusFullyReceived:     {StatusClosed},
	StatusCancelled:         {},
	StatusClosed:            {},
}

// CanTransition reports whether current -> proposed is in the lifecycle graph.
// It is a pure function over the status enum; unknown statuses are denied.
func CanTransition(current, proposed Status) bool {
	for _, next := range transitions[current] {
		if next == proposed {
			return true
		}
	}
	return false
}

// ValidTransitions returns the set of statuses reachable from current.
// The returned slice is a copy; callers may mutate it freely.
func ValidTransitions(current Status) []Status {
	out := transitions[current]
	result := make([]Status, len(out))
	copy(result, out)
	return result
}

// CanReceive reports whether goods may be received in the given status.
func CanReceive(current Status) bool {
	return current == StatusSentToSupplier || current == StatusPartiallyReceived
}
