package domain

import "strings"

// Priority is a coarse scheduling preference mapped to a fixed
// day/time window by the slot allocator.
type Priority string

const (
	PriorityNone Priority = ""
	PriorityP1   Priority = "P1"
	PriorityP2   Priority = "P2"
	PriorityP3   Priority = "P3"
)

// ParsePriority canonicalizes user input into a priority token.
// Anything outside P1/P2/P3 is rejected.
func ParsePriority(input string) (Priority, bool) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "P1":
		return PriorityP1, true
	case "P2":
		return PriorityP2, true
	case "P3":
		return PriorityP3, true
	}
	return PriorityNone, false
}
