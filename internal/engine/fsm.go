package engine

import "fmt"

// Transition events on a work order. Each event is legal from exactly
// one status, so the table below is keyed by event name.
const (
	EventAccept   = "accept"
	EventReject   = "reject"
	EventStart    = "start"
	EventSubmit   = "submit"
	EventComplete = "complete"
	EventRework   = "rework"
	EventResume   = "resume"
	EventRebook   = "rebook"
	EventReinvite = "reinvite"
)

type transition struct {
	From string
	To   string
}

var transitions = map[string]transition{
	EventAccept:   {From: "request", To: "accepted"},
	EventReject:   {From: "request", To: "rejected"},
	EventStart:    {From: "accepted", To: "in_progress"},
	EventSubmit:   {From: "in_progress", To: "review"},
	EventComplete: {From: "review", To: "completed"},
	EventRework:   {From: "review", To: "rework"},
	EventResume:   {From: "rework", To: "in_progress"},
	EventRebook:   {From: "rejected", To: "request"},
	EventReinvite: {From: "rejected", To: "request"},
}

// InvalidTransitionError is returned when an event is fired from a
// status it is not legal in.
type InvalidTransitionError struct {
	From  string
	Event string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("event %s not allowed from status %s", e.Event, e.From)
}

// applyTransition returns the target status for firing event from the
// given status.
func applyTransition(status, event string) (string, error) {
	t, ok := transitions[event]
	if !ok {
		return "", fmt.Errorf("unknown event %s", event)
	}
	if t.From != status {
		return "", InvalidTransitionError{From: status, Event: event}
	}
	return t.To, nil
}
