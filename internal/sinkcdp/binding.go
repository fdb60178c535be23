package sinkcdp

import "sync"

type bindState int

const (
	bindUnbound bindState = iota
	bindBound
)

// elementBinding mirrors one in-page media element's sink binding.
// emptied/ended tears the binding down (the platform forgets the
// explicit sink when a stream is torn down); playing re-binds and, when
// the reported current sink differs from the desired one, asks for a
// re-apply. The desired id survives the Unbound state, matching the
// durable attribute on the element itself.
type elementBinding struct {
	state   bindState
	desired string
	current string
}

// tabBindings tracks the reported bindings for one tab. It is fed from
// the CDP binding channel on the transport's read loop, so access is
// guarded even though callers are effectively single-threaded.
type tabBindings struct {
	mu    sync.Mutex
	elems map[string]*elementBinding
}

func newTabBindings() *tabBindings {
	return &tabBindings{elems: make(map[string]*elementBinding)}
}

// observe applies one watcher report and returns true when the tab
// deserves a fresh apply pass: an element resumed playing with a desired
// sink it is not currently on. The in-page watcher re-applies on its
// own; this is the background-side second line of defence.
func (b *tabBindings) observe(rep WatchReport) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	el := b.elems[rep.Element]
	if el == nil {
		el = &elementBinding{}
		b.elems[rep.Element] = el
	}
	if rep.DesiredSink != "" {
		el.desired = rep.DesiredSink
	}
	el.current = rep.CurrentSink

	switch rep.Event {
	case "emptied", "ended":
		el.state = bindUnbound
		return false
	case "playing":
		el.state = bindBound
		return el.desired != "" && el.current != el.desired
	}
	return false
}

// boundCount reports how many elements are currently in the bound state.
func (b *tabBindings) boundCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, el := range b.elems {
		if el.state == bindBound {
			n++
		}
	}
	return n
}

// reset drops all element state, used when a tab navigates to a new
// document and the old elements are gone.
func (b *tabBindings) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.elems = make(map[string]*elementBinding)
}
