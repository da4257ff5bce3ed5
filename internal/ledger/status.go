// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ledger

import "fmt"

// Status is the pipeline state of a work item.
type Status string

const (
	StatusUploaded    Status = "uploaded"
	StatusQueued      Status = "queued"
	StatusClassifying Status = "classifying"
	StatusClassified  Status = "classified"
	StatusAnalyzing   Status = "analyzing"
	StatusAssessed    Status = "assessed"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusDeleted     Status = "deleted"
)

// pipelineOrder is the forward path every item follows unless it fails or
// is deleted.
var pipelineOrder = []Status{
	StatusUploaded,
	StatusQueued,
	StatusClassifying,
	StatusClassified,
	StatusAnalyzing,
	StatusAssessed,
	StatusCompleted,
}

// Statuses lists every status in pipeline order followed by failed and deleted.
func Statuses() []Status {
	return append(append([]Status(nil), pipelineOrder...), StatusFailed, StatusDeleted)
}

// ParseStatus validates s against the closed status set.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Terminal reports whether no automatic transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDeleted
}

// Next returns the status that follows s on the forward path.
func (s Status) Next() (Status, bool) {
	for i, st := range pipelineOrder[:len(pipelineOrder)-1] {
		if st == s {
			return pipelineOrder[i+1], true
		}
	}
	return "", false
}

// CanTransition reports whether the graph allows moving from one status to
// another: one step forward, to failed from any non-terminal status, or to
// deleted from anything but deleted.
func CanTransition(from, to Status) bool {
	switch {
	case from == to:
		return false
	case to == StatusDeleted:
		return from != StatusDeleted
	case from.Terminal():
		return false
	case to == StatusFailed:
		return true
	}
	next, ok := from.Next()
	return ok && next == to
}

// TimestampField names the field recording when an item entered s.
func TimestampField(s Status) string {
	return string(s) + "_at"
}
