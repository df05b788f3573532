package keys

// Package keys centralizes Redis key construction.
// It is kept in internal to avoid leaking key formats to public API.
// Per-queue keys carry a hash tag so multi-key operations within one
// queue stay on a single cluster slot.

func Pending(q string) string   { return "bgtask:{" + q + "}:pending" }
func Completed(q string) string { return "bgtask:{" + q + "}:completed" }

// Task returns the hash key holding the persisted record for one task.
func Task(q, id string) string { return "bgtask:{" + q + "}:task:" + id }

// Fingerprint returns the per-queue Set key indexing task IDs by their
// dedup fingerprint.
func Fingerprint(q, fp string) string { return "bgtask:{" + q + "}:fp:" + fp }

// Queues is the global Set of queue names that have received at least one
// task. Claims without an explicit queue scan every member.
func Queues() string { return "bgtask:queues" }

// Queue holds precomputed keys for a queue name to avoid repeated
// concatenations on hot paths.
type Queue struct {
	Pending   string
	Completed string
	prefix    string
}

// For returns a set of precomputed keys for the provided queue.
func For(q string) Queue {
	prefix := "bgtask:{" + q + "}:"
	return Queue{
		Pending:   prefix + "pending",
		Completed: prefix + "completed",
		prefix:    prefix,
	}
}

// Task returns the record hash key for a task ID in this queue.
func (k Queue) Task(id string) string { return k.prefix + "task:" + id }

// Fingerprint returns the dedup index key for a fingerprint in this queue.
func (k Queue) Fingerprint(fp string) string { return k.prefix + "fp:" + fp }
