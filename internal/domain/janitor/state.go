package janitor

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a tracked issue.
type Status string

const (
	StatusNew      Status = "NEW"
	StatusFixing   Status = "FIXING"
	StatusPROpen   Status = "PR_OPEN"
	StatusCIPassed Status = "CI_PASSED"
	StatusCIFailed Status = "CI_FAILED"
	StatusClosed   Status = "CLOSED"
)

var allStatuses = []Status{
	StatusNew,
	StatusFixing,
	StatusPROpen,
	StatusCIPassed,
	StatusCIFailed,
	StatusClosed,
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

func ParseStatus(raw string) (Status, error) {
	candidate := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !candidate.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return candidate, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusFixing, StatusPROpen, StatusCIPassed, StatusCIFailed, StatusClosed:
		return true
	default:
		return false
	}
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCIPassed, StatusCIFailed, StatusClosed:
		return true
	case StatusNew, StatusFixing, StatusPROpen:
		return false
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

// MergeOutcome records what happened to the change request opened for an issue.
type MergeOutcome string

const (
	MergeUnknown  MergeOutcome = "unknown"
	MergeMerged   MergeOutcome = "merged"
	MergeRejected MergeOutcome = "rejected"
)

func ParseMergeOutcome(raw string) (MergeOutcome, error) {
	switch candidate := MergeOutcome(strings.ToLower(strings.TrimSpace(raw))); candidate {
	case MergeUnknown, MergeMerged, MergeRejected:
		return candidate, nil
	case "":
		return MergeUnknown, nil
	default:
		return "", fmt.Errorf("invalid merge outcome %q", raw)
	}
}

// ChangeRequestState is the source-control view of an opened change request.
type ChangeRequestState string

const (
	ChangeRequestOpen   ChangeRequestState = "open"
	ChangeRequestMerged ChangeRequestState = "merged"
	ChangeRequestClosed ChangeRequestState = "closed"
)
