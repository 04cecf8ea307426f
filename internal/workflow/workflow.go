// Package workflow defines the approval lifecycle of a test case: the status
// set, the allowed transitions, and the minimum sheet role each transition
// requires. The table is the single source of truth; callers never compare
// status strings directly.
package workflow

import (
	"errors"

	"qasheet/api/internal/rbac"
)

type Status string

const (
	StatusOpen            Status = "Open"
	StatusWaitingApproval Status = "Waiting for QA Lead Approval"
	StatusNeedsRevision   Status = "Needs revision"
	StatusInProgress      Status = "In Progress"
	StatusApproved        Status = "Approved"
	StatusDeclined        Status = "Declined"
	StatusReopen          Status = "Reopen"
	StatusWontDo          Status = "Won't Do"
)

// Initial is the status of every newly created test case.
const Initial = StatusOpen

type Action string

const (
	ActionSubmitForReview Action = "submit_for_review"
	ActionApprove         Action = "approve"
	ActionRequestRevision Action = "request_revision"
	ActionDecline         Action = "decline"
	ActionReopen          Action = "reopen"
	ActionMarkWontDo      Action = "mark_wont_do"
)

// ExecutionStatus is the independent pass/fail axis set during execution.
// It is never touched by workflow transitions.
type ExecutionStatus string

const (
	ExecutionUntested ExecutionStatus = "untested"
	ExecutionPassed   ExecutionStatus = "passed"
	ExecutionFailed   ExecutionStatus = "failed"
	ExecutionBlocked  ExecutionStatus = "blocked"
	ExecutionSkipped  ExecutionStatus = "skipped"
)

var (
	ErrInvalidTransition = errors.New("invalid workflow transition")
	ErrUnknownAction     = errors.New("unknown workflow action")
)

// Transition is one resolved edge of the table.
type Transition struct {
	From    Status
	Action  Action
	To      Status
	MinRole rbac.Role
}

type edge struct {
	to      Status
	minRole rbac.Role
	from    []Status
}

var transitionTable = map[Action]edge{
	ActionSubmitForReview: {
		to:      StatusWaitingApproval,
		minRole: rbac.RoleQATester,
		from:    []Status{StatusOpen, StatusInProgress, StatusNeedsRevision, StatusReopen},
	},
	ActionApprove: {
		to:      StatusApproved,
		minRole: rbac.RoleQALead,
		from:    []Status{StatusWaitingApproval},
	},
	ActionRequestRevision: {
		to:      StatusNeedsRevision,
		minRole: rbac.RoleQALead,
		from:    []Status{StatusWaitingApproval},
	},
	ActionDecline: {
		to:      StatusDeclined,
		minRole: rbac.RoleQALead,
		from:    []Status{StatusWaitingApproval},
	},
	ActionReopen: {
		to:      StatusReopen,
		minRole: rbac.RoleQALead,
		from:    []Status{StatusApproved, StatusDeclined, StatusWontDo},
	},
	ActionMarkWontDo: {
		to:      StatusWontDo,
		minRole: rbac.RoleQALead,
		from:    []Status{StatusOpen, StatusWaitingApproval, StatusNeedsRevision, StatusInProgress, StatusReopen},
	},
}

// Next resolves the transition for an action from the given status.
// It returns ErrUnknownAction for actions not in the table and
// ErrInvalidTransition when the action exists but is not allowed from the
// current status.
func Next(from Status, action Action) (Transition, error) {
	e, ok := transitionTable[action]
	if !ok {
		return Transition{}, ErrUnknownAction
	}
	for _, allowed := range e.from {
		if allowed == from {
			return Transition{From: from, Action: action, To: e.to, MinRole: e.minRole}, nil
		}
	}
	return Transition{}, ErrInvalidTransition
}

// IsTerminal reports whether the status only leaves via an explicit reopen.
func IsTerminal(s Status) bool {
	return s == StatusApproved || s == StatusDeclined || s == StatusWontDo
}

func ValidStatus(s Status) bool {
	switch s {
	case StatusOpen, StatusWaitingApproval, StatusNeedsRevision, StatusInProgress,
		StatusApproved, StatusDeclined, StatusReopen, StatusWontDo:
		return true
	default:
		return false
	}
}

func ParseAction(raw string) (Action, bool) {
	action := Action(raw)
	_, ok := transitionTable[action]
	return action, ok
}

func ParseExecutionStatus(raw string) (ExecutionStatus, bool) {
	switch ExecutionStatus(raw) {
	case ExecutionUntested, ExecutionPassed, ExecutionFailed, ExecutionBlocked, ExecutionSkipped:
		return ExecutionStatus(raw), true
	default:
		return "", false
	}
}
