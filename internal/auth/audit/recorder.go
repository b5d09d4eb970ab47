package audit

import (
	"context"
	"sync"
)

// Recorder keeps events in memory. Tests use it to assert on what was
// recorded; Tee can pair it with a Logger.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Record(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Find returns the recorded events of kind k.
func (r *Recorder) Find(k Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// Tee fans events out to several sinks.
func Tee(sinks ...Sink) Sink { return tee(sinks) }

type tee []Sink

func (t tee) Record(ctx context.Context, e Event) {
	for _, s := range t {
		s.Record(ctx, e)
	}
}
