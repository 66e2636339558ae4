// Package sessiontest provides an in-memory Transport for tests.
package sessiontest

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Recorder is a Transport that keeps every frame written to it.
type Recorder struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	writeFn func(ctx context.Context) error
	notify  chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// FailWith makes every subsequent Write return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeFn = func(context.Context) error { return err }
}

// Block makes every subsequent Write hang until its context is done.
func (r *Recorder) Block() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeFn = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
}

func (r *Recorder) Write(ctx context.Context, data []byte) error {
	r.mu.Lock()
	fn := r.writeFn
	r.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}

	r.mu.Lock()
	r.frames = append(r.frames, append([]byte(nil), data...))
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

func (r *Recorder) Close(string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Frames returns a copy of every frame written so far.
func (r *Recorder) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.frames...)
}

// Messages decodes every frame as a JSON object.
func (r *Recorder) Messages() []map[string]any {
	frames := r.Frames()
	out := make([]map[string]any, 0, len(frames))
	for _, f := range frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// Notifications returns the decoded notification frames only.
func (r *Recorder) Notifications() []map[string]any {
	var out []map[string]any
	for _, m := range r.Messages() {
		if m["type"] == "notification" {
			out = append(out, m)
		}
	}
	return out
}

// Events returns the event member of each notification, in arrival order.
func (r *Recorder) Events() []string {
	var out []string
	for _, n := range r.Notifications() {
		ev, _ := n["event"].(string)
		out = append(out, ev)
	}
	return out
}

// WaitFor polls until at least n frames were written or the timeout expires.
func (r *Recorder) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if len(r.Frames()) >= n {
			return true
		}
		select {
		case <-r.notify:
		case <-deadline:
			return len(r.Frames()) >= n
		case <-time.After(10 * time.Millisecond):
		}
	}
}
