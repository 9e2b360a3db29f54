package janitor

import (
	"fmt"
	"strings"
)

// EventKind identifies an audit record. Each kind drives one status
// transition, see Apply.
type EventKind string

const (
	EventIssueDetected EventKind = "ISSUE_DETECTED"
	EventAICalled      EventKind = "AI_CALLED"
	EventPRCreated     EventKind = "PR_CREATED"
	EventCIPassed      EventKind = "CI_PASSED"
	EventCIFailed      EventKind = "CI_FAILED"
	EventStatusUpdated EventKind = "STATUS_UPDATED"
	EventError         EventKind = "ERROR"
)

func ParseEventKind(raw string) (EventKind, error) {
	switch candidate := EventKind(strings.ToUpper(strings.TrimSpace(raw))); candidate {
	case EventIssueDetected, EventAICalled, EventPRCreated, EventCIPassed, EventCIFailed, EventStatusUpdated, EventError:
		return candidate, nil
	default:
		return "", fmt.Errorf("invalid event kind %q", raw)
	}
}

// Apply returns the status reached when an event of the given kind is recorded
// for an issue currently in from. The empty status stands for "not yet tracked".
func Apply(from Status, kind EventKind) (Status, error) {
	switch kind {
	case EventIssueDetected:
		if from == "" {
			return StatusNew, nil
		}
	case EventAICalled:
		if from == StatusNew {
			return StatusFixing, nil
		}
	case EventError:
		if from == StatusFixing {
			return StatusNew, nil
		}
	case EventPRCreated:
		if from == StatusFixing {
			return StatusPROpen, nil
		}
	case EventCIPassed:
		if from == StatusPROpen {
			return StatusCIPassed, nil
		}
	case EventCIFailed:
		if from == StatusPROpen {
			return StatusCIFailed, nil
		}
	case EventStatusUpdated:
		if from.Valid() && !from.IsTerminal() {
			return StatusClosed, nil
		}
	default:
		return "", fmt.Errorf("%w: unknown event kind %q", ErrInvalidTransition, kind)
	}
	return "", fmt.Errorf("%w: %s cannot follow status %q", ErrInvalidTransition, kind, from)
}

// CanTransition reports whether some event moves an issue from one status to another.
func CanTransition(from Status, to Status) bool {
	for _, kind := range []EventKind{EventAICalled, EventError, EventPRCreated, EventCIPassed, EventCIFailed, EventStatusUpdated} {
		next, err := Apply(from, kind)
		if err == nil && next == to {
			return true
		}
	}
	return false
}

// TransitionEvent is the event kind that must accompany a from -> to change.
func TransitionEvent(from Status, to Status) (EventKind, error) {
	for _, kind := range []EventKind{EventAICalled, EventError, EventPRCreated, EventCIPassed, EventCIFailed, EventStatusUpdated} {
		next, err := Apply(from, kind)
		if err == nil && next == to {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// ValidateTrail replays an ordered event sequence and returns the status it
// ends in. It fails on the first event the state machine does not allow.
func ValidateTrail(kinds []EventKind) (Status, error) {
	var current Status
	for idx, kind := range kinds {
		next, err := Apply(current, kind)
		if err != nil {
			return current, fmt.Errorf("event #%d: %w", idx+1, err)
		}
		current = next
	}
	return current, nil
}
