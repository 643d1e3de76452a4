package tasks

import "fmt"

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	ListShares Phase = iota
	CheckShare
)

func (p Phase) String() string {
	switch p {
	case ListShares:
		return "list_shares"
	case CheckShare:
		return "check_share"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func listedSharesUpdate(total int, owner string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ListShares,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Found %d shares for %s", total, owner),
	}
}

func checkedShareUpdate(step, total int, res ShareCheckResult) ProgressUpdate {
	msg := fmt.Sprintf("%s is live", res.ShareCode)
	switch {
	case res.Error != nil:
		msg = fmt.Sprintf("%s failed: %s", res.ShareCode, res.Kind)
	case res.Refreshed:
		msg = fmt.Sprintf("%s refreshed", res.ShareCode)
	}

	return ProgressUpdate{
		Phase:   CheckShare,
		Step:    step,
		Total:   total,
		Message: msg,
		Data:    res,
	}
}
