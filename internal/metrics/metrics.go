package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
)

// Registry is a flat set of named counters. Counters are cheap enough for
// the storage layer's per-operation bookkeeping; the lock fast path itself
// never touches them.
type Registry struct {
	counters sync.Map // name -> *int64
}

// Default is the process-wide registry the package-level helpers use.
var Default = &Registry{}

func (r *Registry) counter(name string) *int64 {
	if v, ok := r.counters.Load(name); ok {
		return v.(*int64)
	}
	v, _ := r.counters.LoadOrStore(name, new(int64))
	return v.(*int64)
}

// Add adds delta to the named counter, creating it at zero if needed.
func (r *Registry) Add(name string, delta int64) {
	atomic.AddInt64(r.counter(name), delta)
}

// Get returns the counter's current value; unknown names read as zero.
func (r *Registry) Get(name string) int64 {
	if v, ok := r.counters.Load(name); ok {
		return atomic.LoadInt64(v.(*int64))
	}
	return 0
}

// Snapshot copies every counter, for reports at the end of a run.
func (r *Registry) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	r.counters.Range(func(key, value any) bool {
		out[key.(string)] = atomic.LoadInt64(value.(*int64))
		return true
	})
	return out
}

// Names returns counter names in sorted order.
func (r *Registry) Names() []string {
	var names []string
	r.counters.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Handler serves the registry as JSON.
func (r *Registry) Handler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(r.Snapshot())
}

// Package-level helpers against Default.

func Inc(name string)            { Default.Add(name, 1) }
func Add(name string, d int64)   { Default.Add(name, d) }
func Get(name string) int64      { return Default.Get(name) }
func Snapshot() map[string]int64 { return Default.Snapshot() }

func Handler(w http.ResponseWriter, req *http.Request) { Default.Handler(w, req) }
