package bgtask

import "time"

// Action decides how the scheduler treats an incoming request when
// unlocked tasks with the same fingerprint already exist.
// Use the exported constants instead of raw strings to avoid typos.
type Action string

const (
	// ActionSchedule always inserts a new task.
	ActionSchedule Action = "schedule"
	// ActionRescheduleExisting updates run_at/priority of an existing
	// match in place (last-write-wins) instead of inserting.
	ActionRescheduleExisting Action = "reschedule_existing"
	// ActionCheckExisting leaves an existing match untouched
	// (first-write-wins) instead of inserting.
	ActionCheckExisting Action = "check_existing"
)

// String returns the raw string value of the action.
func (a Action) String() string { return string(a) }

// ParseAction converts a string into an Action, returning an error for
// unknown values.
func ParseAction(s string) (Action, error) {
	switch s {
	case string(ActionSchedule):
		return ActionSchedule, nil
	case string(ActionRescheduleExisting):
		return ActionRescheduleExisting, nil
	case string(ActionCheckExisting):
		return ActionCheckExisting, nil
	default:
		return "", ErrUnknownAction
	}
}

// Schedule is an optional-override structure describing when and how a
// task should be queued. Zero-valued fields mean "unset"; they fall back
// to the next layer (registered defaults, then globals) during Merge and
// Resolve. Schedules are plain values with no shared state.
type Schedule struct {
	// RunAt is an absolute eligibility time.
	RunAt time.Time
	// RunIn is an offset from evaluation time; ignored when RunAt is set.
	RunIn time.Duration
	// Priority orders eligible tasks; larger runs earlier.
	Priority *int
	// Action is the dedup policy for this request.
	Action Action
}

// Merge combines two schedules; fields set on s win over other's.
// The result is a new value; neither input is modified.
func (s Schedule) Merge(other Schedule) Schedule {
	out := s
	if out.RunAt.IsZero() && out.RunIn == 0 {
		out.RunAt = other.RunAt
		out.RunIn = other.RunIn
	}
	if out.Priority == nil {
		out.Priority = other.Priority
	}
	if out.Action == "" {
		out.Action = other.Action
	}
	return out
}

// ResolveRunAt computes the effective eligibility time: an absolute RunAt
// passes through, RunIn is taken as now+RunIn, and an unset schedule
// resolves to now. Offsets are evaluated at schedule-call time.
func (s Schedule) ResolveRunAt(now time.Time) time.Time {
	if !s.RunAt.IsZero() {
		return s.RunAt
	}
	return now.Add(s.RunIn)
}

// ResolvePriority returns the effective priority, defaulting to 0.
func (s Schedule) ResolvePriority() int {
	if s.Priority == nil {
		return 0
	}
	return *s.Priority
}

// ResolveAction returns the effective action, defaulting to ActionSchedule.
func (s Schedule) ResolveAction() Action {
	if s.Action == "" {
		return ActionSchedule
	}
	return s.Action
}
