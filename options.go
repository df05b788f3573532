package bgtask

import "time"

type options struct {
	schedule       Schedule
	queue          string
	queueSet       bool
	repeat         time.Duration
	repeatSet      bool
	repeatUntil    time.Time
	repeatUntilSet bool
	verboseName    string
	creator        string
	remove         bool
	removeSet      bool
}

// Option configures a schedule request. Options passed to
// Registry.Register become per-task defaults; options passed to a
// Schedule call override them.
type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// merge layers per-call options over registered defaults; fields set on o win.
// Both inputs are left untouched.
func (o *options) merge(defaults *options) *options {
	out := *o
	out.schedule = o.schedule.Merge(defaults.schedule)
	if !out.queueSet {
		out.queue = defaults.queue
		out.queueSet = defaults.queueSet
	}
	if !out.removeSet {
		out.remove = defaults.remove
		out.removeSet = defaults.removeSet
	}
	if !out.repeatSet {
		out.repeat = defaults.repeat
		out.repeatSet = defaults.repeatSet
	}
	if !out.repeatUntilSet {
		out.repeatUntil = defaults.repeatUntil
		out.repeatUntilSet = defaults.repeatUntilSet
	}
	if out.verboseName == "" {
		out.verboseName = defaults.verboseName
	}
	if out.creator == "" {
		out.creator = defaults.creator
	}
	return &out
}

// RunAt sets an absolute eligibility time for the task.
func RunAt(t time.Time) Option {
	return func(o *options) {
		o.schedule.RunAt = t
	}
}

// RunIn schedules the task to become eligible after the specified
// duration, measured from the schedule call.
func RunIn(d time.Duration) Option {
	return func(o *options) {
		o.schedule.RunIn = d
	}
}

// Priority sets the task priority. Larger values run earlier.
func Priority(p int) Option {
	return func(o *options) {
		o.schedule.Priority = &p
	}
}

// WithAction sets the dedup action applied against existing unlocked
// tasks with the same fingerprint.
func WithAction(a Action) Option {
	return func(o *options) {
		o.schedule.Action = a
	}
}

// WithSchedule applies a whole Schedule value at once. Fields already set
// by earlier options keep their values.
func WithSchedule(s Schedule) Option {
	return func(o *options) {
		o.schedule = o.schedule.Merge(s)
	}
}

// Queue assigns the task to a named queue. Queues order independently.
func Queue(q string) Option {
	return func(o *options) {
		o.queue = q
		o.queueSet = true
	}
}

// Repeat re-schedules the task with the given interval after each
// successful completion. Passing 0 explicitly cancels a repeat default
// set at registration.
func Repeat(d time.Duration) Option {
	return func(o *options) {
		o.repeat = d
		o.repeatSet = true
	}
}

// RepeatUntil stops spawning repetitions once the next occurrence would
// fall after t. Passing the zero time explicitly clears a default set at
// registration.
func RepeatUntil(t time.Time) Option {
	return func(o *options) {
		o.repeatUntil = t
		o.repeatUntilSet = true
	}
}

// VerboseName attaches a display name to the task. Opaque to the engine.
func VerboseName(name string) Option {
	return func(o *options) {
		o.verboseName = name
	}
}

// Creator attaches provenance metadata to the task. Opaque to the engine.
func Creator(c string) Option {
	return func(o *options) {
		o.creator = c
	}
}

// RemoveExisting deletes other unlocked tasks with the same fingerprint
// at insertion time, so at most one instance survives. Passing false
// explicitly overrides a default set at registration.
func RemoveExisting(remove bool) Option {
	return func(o *options) {
		o.remove = remove
		o.removeSet = true
	}
}
