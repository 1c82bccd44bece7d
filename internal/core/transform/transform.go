// Package transform holds the built-in reply callbacks.
package transform

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Func maps a received message to the reply sent back to the same client.
type Func func(string) string

var builtins = map[string]Func{
	"echo":  Echo,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"reverse": func(s string) string {
		r := []rune(s)
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		return string(r)
	},
}

// Echo returns s unchanged.
func Echo(s string) string { return s }

// Lookup returns the built-in transform called name.
func Lookup(name string) (Func, error) {
	if name == "" {
		name = "echo"
	}
	fn, ok := builtins[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown transform %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return fn, nil
}

// Names lists the built-in transforms.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Recorder wraps a transform and remembers the last message it received.
type Recorder struct {
	next Func

	mu   sync.RWMutex
	last string
	seen uint64
}

func NewRecorder(next Func) *Recorder {
	if next == nil {
		next = Echo
	}
	return &Recorder{next: next}
}

// Apply records s and forwards it to the wrapped transform.
func (r *Recorder) Apply(s string) string {
	r.mu.Lock()
	r.last = s
	r.seen++
	r.mu.Unlock()
	return r.next(s)
}

// Last returns the most recently received message and the total count.
func (r *Recorder) Last() (string, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.seen
}
