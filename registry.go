package bgtask

import (
	"context"
	"sort"
)

// Func is the signature of a task function: positional args plus keyword
// args in, an arbitrary serializable value out. The context carries the
// running Task, retrievable with CurrentTask.
type Func func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Registry maps task names to functions and their scheduling defaults.
// Populate it fully at process start, before any worker begins claiming;
// the table is read-only afterwards and every worker process must register
// the same names for claimed work to be runnable wherever it lands.
type Registry struct {
	client *Client
	tasks  map[string]*RegisteredTask
}

// NewRegistry creates an empty registry whose registered tasks schedule
// through the given client.
func NewRegistry(c *Client) *Registry {
	return &Registry{
		client: c,
		tasks:  make(map[string]*RegisteredTask),
	}
}

// Register binds a name to a task function. Options become the task's
// scheduling defaults; per-call options override them. Registering the
// same name again replaces the previous entry.
func (r *Registry) Register(name string, fn Func, defaults ...Option) *RegisteredTask {
	rt := &RegisteredTask{
		name:     name,
		fn:       fn,
		defaults: newOptions(defaults),
		client:   r.client,
	}
	r.tasks[name] = rt
	return rt
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	rt, ok := r.tasks[name]
	if !ok {
		return nil, false
	}
	return rt.fn, true
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tasks[name]
	return ok
}

// Names returns all registered task names in a stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisteredTask is the schedulable handle returned by Register. It
// carries the task name, its function and its default schedule.
type RegisteredTask struct {
	name     string
	fn       Func
	defaults *options
	client   *Client
}

// Name returns the registered task name.
func (rt *RegisteredTask) Name() string { return rt.name }

// Schedule queues a run of this task. Per-call options win over the
// defaults given at registration, which win over global defaults
// (run at = now, priority = 0, action = ActionSchedule). The merge is a
// pure combination of the two option sets.
func (rt *RegisteredTask) Schedule(ctx context.Context, args []any, kwargs map[string]any, opts ...Option) (*Task, error) {
	return rt.client.schedule(ctx, rt.name, args, kwargs, newOptions(opts).merge(rt.defaults))
}
