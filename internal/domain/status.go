package domain

// WorkItemStatus is the lifecycle state of a discovered work item.
type WorkItemStatus string

const (
	ItemDiscovered   WorkItemStatus = "discovered"
	ItemScored       WorkItemStatus = "scored"
	ItemQueued       WorkItemStatus = "queued"
	ItemApplied      WorkItemStatus = "applied"
	ItemInterviewing WorkItemStatus = "interviewing"
	ItemWon          WorkItemStatus = "won"
	ItemInProgress   WorkItemStatus = "in_progress"
	ItemDelivered    WorkItemStatus = "delivered"
	ItemCompleted    WorkItemStatus = "completed"
	ItemRejected     WorkItemStatus = "rejected"
	ItemExpired      WorkItemStatus = "expired"
	ItemCancelled    WorkItemStatus = "cancelled"
	ItemDisputed     WorkItemStatus = "disputed"
)

// workItemTransitions is the legality table for work item status moves.
// Pre-won states may always exit to rejected/expired/cancelled; post-won
// states mirror the contract lifecycle (delivered may return to in_progress
// on a revision).
var workItemTransitions = map[WorkItemStatus][]WorkItemStatus{
	ItemDiscovered:   {ItemScored, ItemQueued, ItemRejected, ItemExpired, ItemCancelled},
	ItemScored:       {ItemQueued, ItemApplied, ItemRejected, ItemExpired, ItemCancelled},
	ItemQueued:       {ItemApplied, ItemRejected, ItemExpired, ItemCancelled},
	ItemApplied:      {ItemInterviewing, ItemWon, ItemRejected, ItemExpired, ItemCancelled},
	ItemInterviewing: {ItemWon, ItemRejected, ItemExpired, ItemCancelled},
	ItemWon:          {ItemInProgress, ItemCancelled, ItemDisputed},
	ItemInProgress:   {ItemDelivered, ItemCancelled, ItemDisputed},
	ItemDelivered:    {ItemCompleted, ItemInProgress, ItemDisputed},
}

// CanTransition reports whether s -> to is a legal move.
func (s WorkItemStatus) CanTransition(to WorkItemStatus) bool {
	for _, next := range workItemTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s WorkItemStatus) IsTerminal() bool {
	return len(workItemTransitions[s]) == 0
}

// AssignmentRequired reports whether the assigned-worker invariant demands a
// worker at this status: assigned_worker is set iff status is won or later
// on the winning path.
func (s WorkItemStatus) AssignmentRequired() bool {
	switch s {
	case ItemWon, ItemInProgress, ItemDelivered, ItemCompleted, ItemDisputed:
		return true
	}
	return false
}

// Eligible reports whether the item status admits bidding.
func (s WorkItemStatus) Eligible() bool {
	return s == ItemDiscovered || s == ItemScored || s == ItemQueued
}

// ProposalStatus is the lifecycle state of a bid.
type ProposalStatus string

const (
	ProposalDraft       ProposalStatus = "draft"
	ProposalSubmitted   ProposalStatus = "submitted"
	ProposalViewed      ProposalStatus = "viewed"
	ProposalShortlisted ProposalStatus = "shortlisted"
	ProposalAccepted    ProposalStatus = "accepted"
	ProposalRejected    ProposalStatus = "rejected"
	ProposalWithdrawn   ProposalStatus = "withdrawn"
)

var proposalTransitions = map[ProposalStatus][]ProposalStatus{
	ProposalDraft:       {ProposalSubmitted, ProposalWithdrawn},
	ProposalSubmitted:   {ProposalViewed, ProposalShortlisted, ProposalAccepted, ProposalRejected, ProposalWithdrawn},
	ProposalViewed:      {ProposalShortlisted, ProposalAccepted, ProposalRejected, ProposalWithdrawn},
	ProposalShortlisted: {ProposalAccepted, ProposalRejected, ProposalWithdrawn},
}

func (s ProposalStatus) CanTransition(to ProposalStatus) bool {
	for _, next := range proposalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s ProposalStatus) IsTerminal() bool {
	return s == ProposalAccepted || s == ProposalRejected || s == ProposalWithdrawn
}

// ContractStatus is the post-win lifecycle of an active contract.
type ContractStatus string

const (
	ContractInProgress ContractStatus = "in_progress"
	ContractDelivered  ContractStatus = "delivered"
	ContractCompleted  ContractStatus = "completed"
	ContractCancelled  ContractStatus = "cancelled"
	ContractDisputed   ContractStatus = "disputed"
)

var contractTransitions = map[ContractStatus][]ContractStatus{
	ContractInProgress: {ContractDelivered, ContractCancelled, ContractDisputed},
	ContractDelivered:  {ContractCompleted, ContractInProgress, ContractDisputed},
}

func (s ContractStatus) CanTransition(to ContractStatus) bool {
	for _, next := range contractTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s ContractStatus) IsTerminal() bool {
	return s == ContractCompleted || s == ContractCancelled || s == ContractDisputed
}

// WorkItemStatusFor maps a contract status onto the mirrored work item status.
func WorkItemStatusFor(s ContractStatus) WorkItemStatus {
	switch s {
	case ContractInProgress:
		return ItemInProgress
	case ContractDelivered:
		return ItemDelivered
	case ContractCompleted:
		return ItemCompleted
	case ContractCancelled:
		return ItemCancelled
	case ContractDisputed:
		return ItemDisputed
	}
	return ItemInProgress
}
