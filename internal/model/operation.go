package model

import "fmt"

// OperationStatus is the lifecycle state of a stack set operation as
// reported by the control plane.
type OperationStatus string

const (
	OperationQueued    OperationStatus = "QUEUED"
	OperationRunning   OperationStatus = "RUNNING"
	OperationStopping  OperationStatus = "STOPPING"
	OperationSucceeded OperationStatus = "SUCCEEDED"
	OperationFailed    OperationStatus = "FAILED"
	OperationStopped   OperationStatus = "STOPPED"
)

// ParseOperationStatus converts a control plane status string.
func ParseOperationStatus(s string) (OperationStatus, error) {
	switch st := OperationStatus(s); st {
	case OperationQueued, OperationRunning, OperationStopping,
		OperationSucceeded, OperationFailed, OperationStopped:
		return st, nil
	}
	return "", fmt.Errorf("unknown operation status %q", s)
}

// IsTerminal reports whether no further transition is possible.
func (s OperationStatus) IsTerminal() bool {
	switch s {
	case OperationSucceeded, OperationFailed, OperationStopped:
		return true
	}
	return false
}

// Operation is an asynchronous action on a stack set.
type Operation struct {
	ResourceName string          `json:"resource_name"`
	OperationID  string          `json:"operation_id"`
	Status       OperationStatus `json:"status"`
}

// Per-instance result status inside an operation.
const (
	ResultPending   = "PENDING"
	ResultRunning   = "RUNNING"
	ResultSucceeded = "SUCCEEDED"
	ResultFailed    = "FAILED"
	ResultCancelled = "CANCELLED"
)

// OperationResult is the outcome of an operation for one account/region.
type OperationResult struct {
	Account      string `json:"account"`
	Region       string `json:"region"`
	Status       string `json:"status"`
	StatusReason string `json:"status_reason,omitempty"`
}

// PollAction is what the poller does after observing an operation status.
type PollAction int

const (
	PollRequeue PollAction = iota + 1
	PollRegister
	PollDeadLetter
)

func (a PollAction) String() string {
	switch a {
	case PollRequeue:
		return "requeue"
	case PollRegister:
		return "register"
	case PollDeadLetter:
		return "dead_letter"
	}
	return "unknown"
}

var pollTransitions = map[OperationStatus]PollAction{
	OperationQueued:    PollRequeue,
	OperationRunning:   PollRequeue,
	OperationStopping:  PollRequeue,
	OperationSucceeded: PollRegister,
	OperationFailed:    PollDeadLetter,
	OperationStopped:   PollDeadLetter,
}

// DecidePoll maps an operation status to the poller's next action.
func DecidePoll(status OperationStatus) (PollAction, error) {
	action, ok := pollTransitions[status]
	if !ok {
		return 0, fmt.Errorf("no poll transition for status %q", status)
	}
	return action, nil
}

// DispatchAction is what the dispatcher does with an instance request.
type DispatchAction int

const (
	DispatchLaunch DispatchAction = iota + 1
	DispatchRequeue
)

// DecideDispatch returns DispatchRequeue while any operation on the stack
// set is still non-terminal. The control plane allows only one at a time.
func DecideDispatch(ops []Operation) DispatchAction {
	for _, op := range ops {
		if !op.Status.IsTerminal() {
			return DispatchRequeue
		}
	}
	return DispatchLaunch
}
