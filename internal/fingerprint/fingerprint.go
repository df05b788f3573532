package fingerprint

// Package fingerprint computes the dedup hash over a task's name and its
// serialized parameters. The hash is a pure function of content so it
// stays stable across process restarts.

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Compute returns a hex fingerprint for a task name and its canonical
// JSON-encoded params. Callers must pass params produced by
// encoding/json, which emits map keys in sorted order; that makes the
// result independent of kwarg insertion order.
func Compute(name string, params []byte) string {
	d := xxhash.New()
	_, _ = d.WriteString(name)
	// Separator prevents (name="ab", params="c") colliding with ("a", "bc").
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(params)
	return strconv.FormatUint(d.Sum64(), 16)
}
