package domain

import "fmt"

// InvalidTransitionError is returned when a status move is not in the
// legality table for its entity. State is left unchanged.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Entity, e.From, e.To)
}

// RegressionNotAllowedError is returned when a progress update is lower than
// the current value and was not submitted as a revision.
type RegressionNotAllowedError struct {
	ContractID string
	Current    int
	Requested  int
}

func (e *RegressionNotAllowedError) Error() string {
	return fmt.Sprintf("contract %s: progress regression %d -> %d requires a revision", e.ContractID, e.Current, e.Requested)
}

// RevisionLimitExceededError is returned when a revision would exceed the
// contract's cap.
type RevisionLimitExceededError struct {
	ContractID string
	Max        int
}

func (e *RevisionLimitExceededError) Error() string {
	return fmt.Sprintf("contract %s: revision limit %d exceeded", e.ContractID, e.Max)
}

// RateLimitExceededError is returned when a fixed-window counter is full.
// The existing counter value is preserved.
type RateLimitExceededError struct {
	ScopeType string
	ScopeID   string
	LimitType string
	Window    string
	Limit     int
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s %s action %q: limit %d per %s", e.ScopeType, e.ScopeID, e.LimitType, e.Limit, e.Window)
}

// DuplicateKeyError is returned when a write violates a uniqueness
// constraint (platform+platform_job_id, work_item+worker, counter window).
type DuplicateKeyError struct {
	Entity string
	Key    string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate %s for key %s", e.Entity, e.Key)
}

// InvalidLedgerAmountError is returned when an earning would settle to a
// negative net amount.
type InvalidLedgerAmountError struct {
	NetCents int64
}

func (e *InvalidLedgerAmountError) Error() string {
	return fmt.Sprintf("invalid ledger amount: net %d cents is negative", e.NetCents)
}

// ConcurrentConflictError is returned when an atomic multi-entity update
// loses a race; callers retry a bounded number of times.
type ConcurrentConflictError struct {
	Entity string
	ID     string
}

func (e *ConcurrentConflictError) Error() string {
	return fmt.Sprintf("concurrent conflict on %s %s", e.Entity, e.ID)
}
