// internal/bridge/watcher.go
package bridge

import (
	"net"
	"sync"
)

// DescriptorKind classifies what a descriptor stands for
type DescriptorKind string

const (
	DescriptorListener DescriptorKind = "listener"
	DescriptorClient   DescriptorKind = "client"
	DescriptorDevice   DescriptorKind = "device"
)

// Descriptor is one pollable handle owned by a bridge
type Descriptor struct {
	Kind DescriptorKind
	Name string
	w    *watcher
}

// readiness is a descriptor that became ready, carrying the result of
// the accept or read performed on it
type readiness struct {
	w    *watcher
	conn net.Conn
	data []byte
	err  error
}

// discard releases a socket that was accepted but never handed to a server
func (r readiness) discard() {
	if r.conn != nil {
		r.conn.Close()
	}
}

// watcher turns a blocking accept or read into readiness notifications.
// It performs one operation, hands the result to the dispatcher and waits
// to be resumed before the next one, so each descriptor has at most one
// outstanding event.
type watcher struct {
	kind     DescriptorKind
	name     string
	op       func() readiness
	resumeC  chan struct{}
	done     chan struct{}
	armed    bool
	stopOnce sync.Once
}

func newWatcher(kind DescriptorKind, name string) *watcher {
	return &watcher{
		kind:    kind,
		name:    name,
		resumeC: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (w *watcher) descriptor() Descriptor {
	return Descriptor{Kind: w.kind, Name: w.name, w: w}
}

// arm starts watching on first use; later calls are no-ops
func (w *watcher) arm(out chan<- readiness) {
	if w.armed || w.stopped() {
		return
	}
	w.armed = true
	go w.run(out)
}

func (w *watcher) run(out chan<- readiness) {
	for {
		ev := w.op()
		ev.w = w

		if w.stopped() {
			ev.discard()
			return
		}
		select {
		case out <- ev:
		case <-w.done:
			ev.discard()
			return
		}

		// An error ends the descriptor
		if ev.err != nil {
			return
		}

		select {
		case <-w.resumeC:
		case <-w.done:
			return
		}
	}
}

// resume allows the next operation once the previous event is processed
func (w *watcher) resume() {
	select {
	case w.resumeC <- struct{}{}:
	default:
	}
}

// stop marks the descriptor as gone; events still in flight become stale
func (w *watcher) stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *watcher) stopped() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// ReadySet holds the readiness events gathered in one dispatcher iteration
type ReadySet struct {
	events map[*watcher]readiness
	order  []*watcher
}

func newReadySet() *ReadySet {
	return &ReadySet{events: make(map[*watcher]readiness)}
}

func (rs *ReadySet) add(ev readiness) {
	if _, ok := rs.events[ev.w]; !ok {
		rs.order = append(rs.order, ev.w)
	}
	rs.events[ev.w] = ev
}

// take returns and consumes the event of w, if any
func (rs *ReadySet) take(w *watcher) (readiness, bool) {
	if w == nil {
		return readiness{}, false
	}
	ev, ok := rs.events[w]
	if ok {
		delete(rs.events, w)
	}
	return ev, ok
}

// Len returns the number of ready descriptors
func (rs *ReadySet) Len() int {
	return len(rs.order)
}

// release discards unconsumed events and re-arms live descriptors
func (rs *ReadySet) release() {
	for _, w := range rs.order {
		if ev, ok := rs.events[w]; ok {
			ev.discard()
		}
		if !w.stopped() {
			w.resume()
		}
	}
	rs.events = nil
	rs.order = nil
}
