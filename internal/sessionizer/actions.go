package sessionizer

import "sort"

// DefaultActionEvents is the designated set of event ids that may open a session.
var DefaultActionEvents = []string{"a", "b", "c"}

// ActionSet is the fixed set of event ids classified as action events.
type ActionSet map[string]struct{}

// NewActionSet builds an action set from event ids.
func NewActionSet(eventIDs ...string) ActionSet {
	s := make(ActionSet, len(eventIDs))
	for _, id := range eventIDs {
		s[id] = struct{}{}
	}
	return s
}

// Contains reports whether eventID is an action event.
func (s ActionSet) Contains(eventID string) bool {
	_, ok := s[eventID]
	return ok
}

// IDs returns the action event ids in sorted order.
func (s ActionSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
